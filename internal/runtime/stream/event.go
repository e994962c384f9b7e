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

	"agent-bridge/internal/runtime/frame"
)

// EventKind 事件类型
type EventKind string

const (
	KindStart  EventKind = "text-start"
	KindDelta  EventKind = "text-delta"
	KindEnd    EventKind = "text-end"
	KindFinish EventKind = "finish"
	KindError  EventKind = "error"
)

// Event 对外事件。顺序保证：start 恰好一次且最先；之后 delta*；
// 终止为 (end, finish) 或单个 error，二者互斥。
type Event struct {
	Kind         EventKind            `json:"type"`
	ID           string               `json:"id"`
	Delta        string               `json:"delta,omitempty"`
	FinishReason string               `json:"finishReason,omitempty"`
	Usage        *frame.UsageMetadata `json:"usage,omitempty"`
	Err          error                `json:"-"`
}

// Terminal 是否为终止事件
func (e Event) Terminal() bool {
	return e.Kind == KindFinish || e.Kind == KindError
}

// EventStream 一轮回复的事件流
type EventStream struct {
	id     string
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// ID 本轮文本片段 ID，所有事件共享
func (s *EventStream) ID() string {
	return s.id
}

// Events 事件通道，终止后关闭
func (s *EventStream) Events() <-chan Event {
	return s.events
}

// Close 停止读取并释放底层传输，等待生产者退出；可重复调用
func (s *EventStream) Close() {
	s.cancel()
	<-s.done
}

// Done 生产者退出后关闭
func (s *EventStream) Done() <-chan struct{} {
	return s.done
}

// Err 流结束后的错误；正常结束为 nil。须在 Events 关闭或 Close 返回之后调用
func (s *EventStream) Err() error {
	<-s.done
	return s.err
}

// Collect 读完所有事件（测试与 CLI 使用）
func (s *EventStream) Collect() []Event {
	var out []Event
	for ev := range s.events {
		out = append(out, ev)
	}
	return out
}
