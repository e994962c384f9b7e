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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
)

const sampleStream = `data: {"content":{"parts":[{"text":"Hi "}],"role":"model"},"partial":true,"invocationId":"inv-1","author":"agent"}
data: {"content":{"parts":[{"text":"Alice! 你好"}],"role":"model"},"partial":true,"invocationId":"inv-1","author":"agent","actions":{"stateDelta":{"user":{"name":"Alice"}}}}
: keepalive comment
data: {"content":{"parts":[{"text":"Hi Alice! 你好"}]},"partial":false,"finishReason":"stop","usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":3,"totalTokenCount":8}}
data: [DONE]
`

func feedAll(d *Decoder, chunks [][]byte) []Record {
	var out []Record
	for _, c := range chunks {
		out = append(out, d.Feed(c)...)
	}
	return append(out, d.Flush()...)
}

func TestDecoder_SingleLineByteByByte(t *testing.T) {
	line := `data: {"content":{"parts":[{"text":"hi"}]},"partial":false}` + "\n"
	var chunks [][]byte
	for i := 0; i < len(line); i++ {
		chunks = append(chunks, []byte{line[i]})
	}
	recs := feedAll(NewDecoder(log.Nop()), chunks)
	require.Len(t, recs, 1)
	assert.Equal(t, "hi", recs[0].Text())
	assert.False(t, recs[0].Partial)
}

func TestDecoder_ChunkingInvariance(t *testing.T) {
	whole := feedAll(NewDecoder(log.Nop()), [][]byte{[]byte(sampleStream)})
	require.Len(t, whole, 3)

	data := []byte(sampleStream)
	for size := 1; size <= len(data); size++ {
		var chunks [][]byte
		for i := 0; i < len(data); i += size {
			end := i + size
			if end > len(data) {
				end = len(data)
			}
			chunks = append(chunks, data[i:end])
		}
		got := feedAll(NewDecoder(log.Nop()), chunks)
		require.Len(t, got, len(whole), "chunk size %d", size)
		for i := range got {
			assert.Equal(t, whole[i].Text(), got[i].Text(), "chunk size %d record %d", size, i)
			assert.Equal(t, whole[i].Partial, got[i].Partial)
		}
	}
}

func TestDecoder_Fields(t *testing.T) {
	recs := feedAll(NewDecoder(log.Nop()), [][]byte{[]byte(sampleStream)})
	require.Len(t, recs, 3)
	assert.Equal(t, "inv-1", recs[0].InvocationID)
	assert.Equal(t, "agent", recs[0].Author)
	assert.Equal(t, map[string]any{"user": map[string]any{"name": "Alice"}}, recs[1].StateDelta())
	assert.True(t, recs[2].Complete())
	assert.Equal(t, "stop", recs[2].FinishReason)
	require.NotNil(t, recs[2].UsageMetadata)
	assert.Equal(t, 8, recs[2].UsageMetadata.TotalTokenCount)
}

func TestDecoder_MalformedLineSkipped(t *testing.T) {
	input := "data: {\"partial\":true,\"content\":{\"parts\":[{\"text\":\"a\"}]}}\n" +
		"data: {not json}\n" +
		"data: {\"partial\":true,\"content\":{\"parts\":[{\"text\":\"b\"}]}}\n"
	recs := feedAll(NewDecoder(log.Nop()), [][]byte{[]byte(input)})
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Text())
	assert.Equal(t, "b", recs[1].Text())
}

func TestDecoder_FlushPartialLine(t *testing.T) {
	d := NewDecoder(log.Nop())
	recs := d.Feed([]byte(`data: {"content":{"parts":[{"text":"tail"}]}}`))
	assert.Empty(t, recs)
	assert.Greater(t, d.Buffered(), 0)
	recs = d.Flush()
	require.Len(t, recs, 1)
	assert.Equal(t, "tail", recs[0].Text())
	assert.Equal(t, 0, d.Buffered())
	assert.Empty(t, d.Flush())
}

func TestDecoder_CRLFAndNonDataLines(t *testing.T) {
	input := "event: message\r\nid: 7\r\ndata: {\"turnComplete\":true}\r\n\r\n"
	recs := feedAll(NewDecoder(log.Nop()), [][]byte{[]byte(input)})
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Complete())
}

func TestDecodeLine(t *testing.T) {
	rec, err := DecodeLine([]byte("data: [DONE]"))
	assert.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = DecodeLine([]byte("retry: 100"))
	assert.NoError(t, err)
	assert.Nil(t, rec)

	_, err = DecodeLine([]byte("data: {"))
	assert.True(t, errors.Is(err, bridgeerrors.ErrMalformedFrame))

	rec, err = DecodeLine([]byte(`data:{"author":"x"}`))
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "x", rec.Author)
}

func TestRecord_TextMultipleParts(t *testing.T) {
	r := Record{Content: &Content{Parts: []Part{{Text: "a"}, {Text: "b"}}}}
	assert.Equal(t, "ab", r.Text())
	assert.Equal(t, "", Record{}.Text())
	assert.Nil(t, Record{}.StateDelta())
}

type oneByteReader struct {
	r io.Reader
}

func (o oneByteReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return o.r.Read(p[:1])
}

func TestReader_Next(t *testing.T) {
	r := NewReader(oneByteReader{r: strings.NewReader(sampleStream)}, log.Nop())
	var texts []string
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		texts = append(texts, rec.Text())
	}
	assert.Equal(t, []string{"Hi ", "Alice! 你好", "Hi Alice! 你好"}, texts)
	_, err := r.Next()
	assert.Equal(t, io.EOF, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestReader_PropagatesReadError(t *testing.T) {
	r := NewReader(failingReader{}, log.Nop())
	_, err := r.Next()
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
