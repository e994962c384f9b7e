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
	"errors"
	"io"

	"agent-bridge/pkg/log"
)

const readChunkSize = 4 * 1024

// Reader 从 io.Reader 按需拉取字节并逐条返回 Record，不缓冲整个响应
type Reader struct {
	src     io.Reader
	dec     *Decoder
	chunk   []byte
	pending []Record
	done    bool
	err     error
}

// NewReader 创建 Reader
func NewReader(src io.Reader, logger *log.Logger) *Reader {
	return &Reader{
		src:   src,
		dec:   NewDecoder(logger),
		chunk: make([]byte, readChunkSize),
	}
}

// Next 返回下一条记录；输入结束返回 io.EOF，读取失败返回底层错误
func (r *Reader) Next() (Record, error) {
	for len(r.pending) == 0 {
		if r.done {
			if r.err != nil {
				return Record{}, r.err
			}
			return Record{}, io.EOF
		}
		n, err := r.src.Read(r.chunk)
		if n > 0 {
			r.pending = append(r.pending, r.dec.Feed(r.chunk[:n])...)
		}
		if err != nil {
			r.done = true
			if errors.Is(err, io.EOF) {
				r.pending = append(r.pending, r.dec.Flush()...)
			} else {
				r.err = err
			}
		}
	}
	rec := r.pending[0]
	r.pending = r.pending[1:]
	return rec, nil
}
