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

package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-bridge/internal/runtime/frame"
	"agent-bridge/internal/runtime/state"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
)

// sliceSource 依次返回 records，之后返回 tail（默认 io.EOF）
type sliceSource struct {
	records []frame.Record
	tail    error
	pos     int
	reads   atomic.Int32
	closed  atomic.Int32
}

func (s *sliceSource) Next() (frame.Record, error) {
	s.reads.Add(1)
	if s.pos < len(s.records) {
		r := s.records[s.pos]
		s.pos++
		return r, nil
	}
	if s.tail != nil {
		return frame.Record{}, s.tail
	}
	return frame.Record{}, io.EOF
}

func (s *sliceSource) Close() error {
	s.closed.Add(1)
	return nil
}

// blockingSource 首条记录后阻塞，直到 Close
type blockingSource struct {
	first     frame.Record
	sent      bool
	closedCh  chan struct{}
	closeOnce sync.Once
}

func newBlockingSource(first frame.Record) *blockingSource {
	return &blockingSource{first: first, closedCh: make(chan struct{})}
}

func (b *blockingSource) Next() (frame.Record, error) {
	if !b.sent {
		b.sent = true
		return b.first, nil
	}
	<-b.closedCh
	return frame.Record{}, errors.New("use of closed network connection")
}

func (b *blockingSource) Close() error {
	b.closeOnce.Do(func() { close(b.closedCh) })
	return nil
}

func partial(text string) frame.Record {
	return frame.Record{Partial: true, Content: &frame.Content{Parts: []frame.Part{{Text: text}}}}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestAdapter_EndToEndTurn(t *testing.T) {
	acc := state.New()
	acc.AppendTurn(state.RoleUser, "Hello, my name is Alice")

	src := &sliceSource{records: []frame.Record{
		partial("Hi "),
		partial("Alice!"),
		{
			Content:       &frame.Content{Parts: []frame.Part{{Text: "Hi Alice!"}}},
			FinishReason:  "stop",
			UsageMetadata: &frame.UsageMetadata{TotalTokenCount: 12},
		},
	}}
	s := NewAdapter(acc, WithLogger(log.Nop())).Run(context.Background(), src)
	events := s.Collect()

	require.Equal(t, []EventKind{KindStart, KindDelta, KindDelta, KindEnd, KindFinish}, kinds(events))
	assert.Equal(t, "Hi ", events[1].Delta)
	assert.Equal(t, "Alice!", events[2].Delta)
	assert.Equal(t, "stop", events[4].FinishReason)
	require.NotNil(t, events[4].Usage)
	assert.Equal(t, 12, events[4].Usage.TotalTokenCount)
	for _, e := range events {
		assert.Equal(t, s.ID(), e.ID)
	}
	assert.NoError(t, s.Err())

	assert.Equal(t, []map[string]any{
		{"role": "user", "text": "Hello, my name is Alice"},
		{"role": "assistant", "text": "Hi Alice!"},
	}, acc.History())
	assert.GreaterOrEqual(t, src.closed.Load(), int32(1))
}

func TestAdapter_StopsReadingAfterCompletion(t *testing.T) {
	src := &sliceSource{records: []frame.Record{
		partial("a"),
		{TurnComplete: true},
		partial("ignored"),
	}}
	events := NewAdapter(nil, WithLogger(log.Nop())).Run(context.Background(), src).Collect()

	assert.Equal(t, []EventKind{KindStart, KindDelta, KindEnd, KindFinish}, kinds(events))
	assert.Equal(t, FinishReasonStop, events[3].FinishReason)
	assert.Equal(t, int32(2), src.reads.Load())
}

func TestAdapter_ErrorMidStream(t *testing.T) {
	acc := state.New()
	boom := bridgeerrors.Wrap(bridgeerrors.ErrStreamAborted, "connection reset")
	src := &sliceSource{records: []frame.Record{partial("Hi "), partial("there")}, tail: boom}

	s := NewAdapter(acc, WithLogger(log.Nop())).Run(context.Background(), src)
	events := s.Collect()

	require.Equal(t, []EventKind{KindStart, KindDelta, KindDelta, KindError}, kinds(events))
	assert.ErrorIs(t, events[3].Err, bridgeerrors.ErrStreamAborted)
	assert.ErrorIs(t, s.Err(), bridgeerrors.ErrStreamAborted)
	assert.Empty(t, acc.Turns(), "异常结束不追加助手轮次")
}

func TestAdapter_ErrorBeforeAnyRecord(t *testing.T) {
	src := &sliceSource{tail: bridgeerrors.Wrap(bridgeerrors.ErrTimeout, "run_sse")}
	events := NewAdapter(nil, WithLogger(log.Nop())).Run(context.Background(), src).Collect()
	assert.Equal(t, []EventKind{KindStart, KindError}, kinds(events))
	assert.ErrorIs(t, events[1].Err, bridgeerrors.ErrTimeout)
}

func TestAdapter_RuntimeErrorRecord(t *testing.T) {
	src := &sliceSource{records: []frame.Record{
		partial("x"),
		{ErrorCode: "MODEL_ERROR", ErrorMessage: "quota exceeded"},
	}}
	events := NewAdapter(nil, WithLogger(log.Nop())).Run(context.Background(), src).Collect()
	assert.Equal(t, []EventKind{KindStart, KindDelta, KindError}, kinds(events))
}

func TestAdapter_EOFWithoutCompletion(t *testing.T) {
	acc := state.New()
	src := &sliceSource{records: []frame.Record{partial("one"), partial(" two")}}
	events := NewAdapter(acc, WithLogger(log.Nop())).Run(context.Background(), src).Collect()

	assert.Equal(t, []EventKind{KindStart, KindDelta, KindDelta, KindEnd, KindFinish}, kinds(events))
	assert.Equal(t, FinishReasonStop, events[4].FinishReason)
	require.Len(t, acc.Turns(), 1)
	assert.Equal(t, "one two", acc.Turns()[0].Text)
}

func TestAdapter_NonStreamingRuntime(t *testing.T) {
	src := &sliceSource{records: []frame.Record{{
		Content:      &frame.Content{Parts: []frame.Part{{Text: "whole answer"}}},
		TurnComplete: true,
	}}}
	events := NewAdapter(nil, WithLogger(log.Nop())).Run(context.Background(), src).Collect()
	require.Equal(t, []EventKind{KindStart, KindDelta, KindEnd, KindFinish}, kinds(events))
	assert.Equal(t, "whole answer", events[1].Delta)
}

func TestAdapter_MergesStateDeltas(t *testing.T) {
	acc := state.New()
	acc.Merge(map[string]any{"user": map[string]any{"lang": "en"}})
	src := &sliceSource{records: []frame.Record{
		{Partial: true, Actions: &frame.Actions{StateDelta: map[string]any{"user": map[string]any{"name": "Alice"}}}},
		{TurnComplete: true, Actions: &frame.Actions{StateDelta: map[string]any{"step": "documents"}}},
	}}
	NewAdapter(acc, WithLogger(log.Nop())).Run(context.Background(), src).Collect()

	assert.Equal(t, map[string]any{
		"user": map[string]any{"lang": "en", "name": "Alice"},
		"step": "documents",
	}, acc.State())
	assert.Empty(t, acc.Turns(), "无文本不追加空轮次")
}

func TestAdapter_CloseReleasesSource(t *testing.T) {
	src := newBlockingSource(partial("first"))
	s := NewAdapter(nil, WithLogger(log.Nop())).Run(context.Background(), src)

	ev := <-s.Events()
	assert.Equal(t, KindStart, ev.Kind)
	ev = <-s.Events()
	assert.Equal(t, KindDelta, ev.Kind)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close 未返回")
	}

	select {
	case <-src.closedCh:
	default:
		t.Fatal("底层 source 未关闭")
	}
	for e := range s.Events() {
		assert.NotEqual(t, KindError, e.Kind, "消费方取消不产生 error 事件")
		assert.NotEqual(t, KindFinish, e.Kind)
	}
	assert.ErrorIs(t, s.Err(), bridgeerrors.ErrStreamAborted)
	s.Close()
}

func TestAdapter_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newBlockingSource(partial("first"))
	s := NewAdapter(nil, WithLogger(log.Nop()), WithQueueSize(1)).Run(ctx, src)
	<-s.Events()
	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("取消后生产者未退出")
	}
	assert.ErrorIs(t, s.Err(), bridgeerrors.ErrStreamAborted)
}

func TestFail(t *testing.T) {
	err := bridgeerrors.Wrap(bridgeerrors.ErrConnection, "create_session")
	s := Fail(err)
	events := s.Collect()
	assert.Equal(t, []EventKind{KindStart, KindError}, kinds(events))
	assert.True(t, events[1].Terminal())
	assert.ErrorIs(t, s.Err(), bridgeerrors.ErrConnection)
	s.Close()
}
