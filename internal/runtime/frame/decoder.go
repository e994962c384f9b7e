// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package frame

import (
	"bytes"
	"encoding/json"

	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
	"agent-bridge/pkg/metrics"
)

const (
	// DataPrefix 有效行的前缀
	DataPrefix = "data:"
	// DoneSentinel 逻辑结束标记，丢弃不解析
	DoneSentinel = "[DONE]"
)

// Decoder 将任意切分的字节块还原为按到达顺序排列的 Record。
// 内部缓冲未以换行结束的尾行，直到下一块或 Flush。非并发安全。
type Decoder struct {
	buf    []byte
	logger *log.Logger
}

// NewDecoder 创建 Decoder，logger 可为 nil
func NewDecoder(logger *log.Logger) *Decoder {
	return &Decoder{logger: log.OrDefault(logger)}
}

// Feed 追加一块数据，返回本次可完整解码的记录
func (d *Decoder) Feed(chunk []byte) []Record {
	d.buf = append(d.buf, chunk...)
	var out []Record
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		if rec, ok := d.decode(line); ok {
			out = append(out, rec)
		}
		d.buf = d.buf[i+1:]
	}
	// 缓冲已全部消费时释放底层数组
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Flush 输入结束时对残留的尾行做最后一次解码
func (d *Decoder) Flush() []Record {
	if len(bytes.TrimSpace(d.buf)) == 0 {
		d.buf = nil
		return nil
	}
	line := d.buf
	d.buf = nil
	if rec, ok := d.decode(line); ok {
		return []Record{rec}
	}
	return nil
}

// Buffered 当前缓冲的未完成字节数
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) decode(line []byte) (Record, bool) {
	rec, err := DecodeLine(line)
	if err != nil {
		metrics.MalformedFrameTotal.Inc()
		d.logger.Warn("丢弃无法解析的帧", "error", err, "line", truncate(line, 256))
		return Record{}, false
	}
	if rec == nil {
		return Record{}, false
	}
	return *rec, true
}

// DecodeLine 解码单行。非 data 行与结束标记返回 (nil, nil)；JSON 错误返回 ErrMalformedFrame。
func DecodeLine(line []byte) (*Record, error) {
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte(DataPrefix)) {
		return nil, nil
	}
	payload := bytes.TrimPrefix(line[len(DataPrefix):], []byte(" "))
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	if string(bytes.TrimSpace(payload)) == DoneSentinel {
		return nil, nil
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, bridgeerrors.Wrap(bridgeerrors.ErrMalformedFrame, err.Error())
	}
	return &rec, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
