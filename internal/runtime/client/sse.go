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

package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"agent-bridge/internal/runtime/frame"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
	"agent-bridge/pkg/tracing"
)

const opRunSSE = "run_sse"

// SendMessage 发送一条用户消息并返回惰性记录序列。
// c.timeout 约束到收到响应头为止；c.streamTimeout 约束整个响应体的读取。
// 调用方必须 Close 返回的 RecordStream。
func (c *Client) SendMessage(ctx context.Context, userID, sessionID string, msg Message) (*RecordStream, error) {
	ctx, span := tracing.StartRuntimeSpan(ctx, opRunSSE, sessionID)
	start := time.Now()

	body := MessageRequest{
		AppName:   c.appName,
		UserID:    userID,
		SessionID: sessionID,
		NewMessage: frame.Content{
			Parts: []frame.Part{{Text: msg.Text}},
			Role:  "user",
		},
		Streaming:  true,
		StateDelta: msg.StateDelta,
	}

	var rs *RecordStream
	err := c.retry(ctx, opRunSSE, func() error {
		streamCtx, cancel := context.WithTimeout(ctx, c.streamTimeout)
		// 0 等待响应头，1 已收到响应头，2 等待超时；先到者决定结果
		var phase atomic.Int32
		timer := time.AfterFunc(c.timeout, func() {
			if phase.CompareAndSwap(0, 2) {
				cancel()
			}
		})

		resp, sendErr := c.http.R().
			SetContext(streamCtx).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "text/event-stream").
			SetBody(body).
			SetDoNotParseResponse(true).
			Post("/run_sse")

		timer.Stop()
		if !phase.CompareAndSwap(0, 1) {
			cancel()
			if resp != nil && resp.RawBody() != nil {
				_ = resp.RawBody().Close()
			}
			return backoff.Permanent(bridgeerrors.Wrap(bridgeerrors.ErrTimeout, opRunSSE))
		}
		if sendErr != nil {
			cancel()
			return classify(ctx, opRunSSE, sendErr)
		}

		raw := resp.RawBody()
		if !resp.IsSuccess() {
			b, _ := io.ReadAll(io.LimitReader(raw, 2048))
			_ = raw.Close()
			cancel()
			return backoff.Permanent(bridgeerrors.NewTransportError(opRunSSE, resp.StatusCode(), string(b)))
		}
		rs = &RecordStream{
			reader: frame.NewReader(raw, c.logger),
			body:   raw,
			ctx:    streamCtx,
			cancel: cancel,
			span:   span,
			logger: c.logger.With("session_id", sessionID),
		}
		return nil
	})
	observe(opRunSSE, start, err)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}
	return rs, nil
}

// RecordStream run_sse 响应的惰性记录序列，按需从网络读取，不缓冲完整响应。
// 只允许一个 goroutine 调用 Next；Close 可在任意 goroutine 调用以中断读取。
type RecordStream struct {
	reader *frame.Reader
	body   io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	logger *log.Logger

	mu        sync.Mutex
	lastErr   error
	closeOnce sync.Once
	closeErr  error
}

// NewRecordStream 基于任意 reader 构造记录序列（用于非 HTTP 来源与测试）
func NewRecordStream(ctx context.Context, body io.ReadCloser, logger *log.Logger) *RecordStream {
	ctx, cancel := context.WithCancel(ctx)
	logger = log.OrDefault(logger)
	return &RecordStream{
		reader: frame.NewReader(body, logger),
		body:   body,
		ctx:    ctx,
		cancel: cancel,
		span:   trace.SpanFromContext(context.Background()),
		logger: logger,
	}
}

// Next 返回下一条记录；正常结束返回 io.EOF。
// 读取超时返回 ErrTimeout，被取消或连接中断返回 ErrStreamAborted。
func (s *RecordStream) Next() (frame.Record, error) {
	rec, err := s.reader.Next()
	if err == nil || errors.Is(err, io.EOF) {
		return rec, err
	}
	err = s.translate(err)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return frame.Record{}, err
}

func (s *RecordStream) translate(err error) error {
	switch {
	case errors.Is(s.ctx.Err(), context.DeadlineExceeded):
		return bridgeerrors.Wrap(bridgeerrors.ErrTimeout, "run_sse 读取超时")
	case s.ctx.Err() != nil:
		return bridgeerrors.Wrap(bridgeerrors.ErrStreamAborted, "run_sse 已取消")
	default:
		s.logger.Warn("run_sse 读取中断", "error", err)
		return bridgeerrors.Wrapf(bridgeerrors.ErrStreamAborted, "run_sse 读取失败: %v", err)
	}
}

// Close 取消请求并关闭响应体，可重复调用
func (s *RecordStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.body.Close()
		s.mu.Lock()
		err := s.lastErr
		s.mu.Unlock()
		tracing.EndSpan(s.span, err)
	})
	return s.closeErr
}
