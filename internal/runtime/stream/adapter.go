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
	"strings"

	"github.com/google/uuid"

	"agent-bridge/internal/runtime/frame"
	"agent-bridge/internal/runtime/state"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
	"agent-bridge/pkg/metrics"
)

const (
	defaultQueueSize = 16
	// FinishReasonStop 未收到终止记录而正常 EOF 时使用的结束原因
	FinishReasonStop = "stop"
)

// RecordSource 惰性记录序列；Next 正常结束返回 io.EOF，Close 必须可重复调用且能中断阻塞中的 Next
type RecordSource interface {
	Next() (frame.Record, error)
	Close() error
}

// Adapter 将记录序列转换为有序事件流，并把 stateDelta 与完整的助手回复写入 Accumulator。
// 一个 Adapter 属于一个会话；同一时刻只允许一个 Run 在进行，期间调用方不得访问 Accumulator。
type Adapter struct {
	acc       *state.Accumulator
	queueSize int
	logger    *log.Logger
}

// Option Adapter 选项
type Option func(*Adapter)

// WithQueueSize 生产者与消费者之间的有界队列长度
func WithQueueSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.queueSize = n
		}
	}
}

// WithLogger 注入 Logger
func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter 创建 Adapter，acc 为 nil 时不累积状态
func NewAdapter(acc *state.Accumulator, opts ...Option) *Adapter {
	a := &Adapter{acc: acc, queueSize: defaultQueueSize}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = log.OrDefault(a.logger)
	return a
}

// Run 启动生产者 goroutine 读取 src，返回事件流。src 的所有权转移给事件流。
func (a *Adapter) Run(ctx context.Context, src RecordSource) *EventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &EventStream{
		id:     uuid.NewString(),
		events: make(chan Event, a.queueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	// 取消时关闭 src 以中断阻塞在网络读取上的 Next
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })

	metrics.ActiveStreams.Inc()
	go func() {
		defer close(s.done)
		defer close(s.events)
		defer metrics.ActiveStreams.Dec()
		defer stop()
		defer src.Close()
		a.produce(ctx, src, s)
	}()
	return s
}

// Fail 返回只含 start 与 error 的事件流，用于在拿到记录序列之前就失败的一轮
func Fail(err error) *EventStream {
	s := &EventStream{
		id:     uuid.NewString(),
		events: make(chan Event, 2),
		cancel: func() {},
		done:   make(chan struct{}),
		err:    err,
	}
	s.events <- Event{Kind: KindStart, ID: s.id}
	s.events <- Event{Kind: KindError, ID: s.id, Err: err}
	metrics.StreamEventTotal.WithLabelValues(string(KindStart)).Inc()
	metrics.StreamEventTotal.WithLabelValues(string(KindError)).Inc()
	close(s.events)
	close(s.done)
	return s
}

func (a *Adapter) produce(ctx context.Context, src RecordSource, s *EventStream) {
	emit := func(ev Event) bool {
		ev.ID = s.id
		select {
		case s.events <- ev:
			metrics.StreamEventTotal.WithLabelValues(string(ev.Kind)).Inc()
			return true
		case <-ctx.Done():
			return false
		}
	}
	aborted := func() {
		s.err = bridgeerrors.Wrap(bridgeerrors.ErrStreamAborted, "消费方已取消")
		a.logger.Info("事件流被消费方取消", "stream_id", s.id)
	}

	if !emit(Event{Kind: KindStart}) {
		aborted()
		return
	}

	var text strings.Builder
	sawPartial := false
	for {
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			if emit(Event{Kind: KindEnd}) && emit(Event{Kind: KindFinish, FinishReason: FinishReasonStop}) {
				a.commit(text.String())
				return
			}
			aborted()
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				aborted()
				return
			}
			s.err = err
			a.logger.Warn("事件流中断", "stream_id", s.id, "error", err)
			emit(Event{Kind: KindError, Err: err})
			return
		}
		if rec.ErrorCode != "" || rec.ErrorMessage != "" {
			s.err = bridgeerrors.Wrapf(bridgeerrors.ErrStreamAborted, "runtime 错误 %s: %s", rec.ErrorCode, rec.ErrorMessage)
			a.logger.Warn("runtime 返回错误记录", "stream_id", s.id, "code", rec.ErrorCode, "message", rec.ErrorMessage)
			emit(Event{Kind: KindError, Err: s.err})
			return
		}

		if a.acc != nil {
			a.acc.Merge(rec.StateDelta())
		}

		fragment := rec.Text()
		// 非 partial 记录在已有 partial 片段时是聚合全文，跳过
		if rec.Partial || !sawPartial {
			if rec.Partial {
				sawPartial = true
			}
			if fragment != "" {
				if !emit(Event{Kind: KindDelta, Delta: fragment}) {
					aborted()
					return
				}
				text.WriteString(fragment)
			}
		}

		if rec.Complete() {
			reason := rec.FinishReason
			if reason == "" {
				reason = FinishReasonStop
			}
			if emit(Event{Kind: KindEnd}) && emit(Event{Kind: KindFinish, FinishReason: reason, Usage: rec.UsageMetadata}) {
				a.commit(text.String())
				return
			}
			aborted()
			return
		}
	}
}

func (a *Adapter) commit(text string) {
	if a.acc != nil && text != "" {
		a.acc.AppendTurn(state.RoleAssistant, text)
	}
}
