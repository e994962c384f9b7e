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

// Package bridge 会话 worker：串联 session store、accumulator、runtime 客户端与 stream adapter，
// 对宿主暴露 GetOrCreateSession / Send / ClearSession / HealthCheck。
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"agent-bridge/internal/runtime/client"
	"agent-bridge/internal/runtime/session"
	"agent-bridge/internal/runtime/state"
	"agent-bridge/internal/runtime/stream"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
	"agent-bridge/pkg/tracing"
)

// DocumentsKey 文档抽取结果在 state 中的键
const DocumentsKey = "documents"

// Runtime Conversation 依赖的 runtime 能力，*client.Client 实现了它
type Runtime interface {
	session.Runtime
	SendMessage(ctx context.Context, userID, sessionID string, msg client.Message) (*client.RecordStream, error)
	HealthCheck(ctx context.Context) error
	ListApps(ctx context.Context) ([]string, error)
}

// Conversation 一个客户端身份对应的会话 worker。
// 同一时刻只允许一轮在进行：调用方必须读完（或 Close）上一轮的事件流后再调用 Send。
type Conversation struct {
	runtime Runtime
	store   *session.Store
	acc     *state.Accumulator
	adapter *stream.Adapter
	logger  *log.Logger
}

// Option Conversation 选项
type Option func(*conversationOptions)

type conversationOptions struct {
	queueSize int
	logger    *log.Logger
}

// WithQueueSize 事件队列长度
func WithQueueSize(n int) Option {
	return func(o *conversationOptions) { o.queueSize = n }
}

// WithLogger 注入 Logger
func WithLogger(l *log.Logger) Option {
	return func(o *conversationOptions) { o.logger = l }
}

// NewConversation 创建会话 worker，每个会话独享一个 Accumulator
func NewConversation(rt Runtime, store *session.Store, opts ...Option) *Conversation {
	o := &conversationOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := log.OrDefault(o.logger).With("user_id", store.UserID())
	acc := state.New()
	return &Conversation{
		runtime: rt,
		store:   store,
		acc:     acc,
		adapter: stream.NewAdapter(acc, stream.WithQueueSize(o.queueSize), stream.WithLogger(logger)),
		logger:  logger,
	}
}

// UserID 客户端身份
func (c *Conversation) UserID() string {
	return c.store.UserID()
}

// GetOrCreateSession 返回经 restore 确认或新建的 session
func (c *Conversation) GetOrCreateSession(ctx context.Context) (*client.Session, error) {
	return c.store.GetOrCreate(ctx)
}

// Send 发送一条用户消息，返回有序事件流；失败以单个 error 事件结束，不同步返回错误
func (c *Conversation) Send(ctx context.Context, text string) *stream.EventStream {
	if strings.TrimSpace(text) == "" {
		return stream.Fail(bridgeerrors.Wrap(bridgeerrors.ErrInvalidArg, "消息不能为空"))
	}
	sess, err := c.GetOrCreateSession(ctx)
	if err != nil {
		c.logger.Warn("获取 session 失败", "error", err)
		return stream.Fail(err)
	}

	ctx, span := tracing.StartTurnSpan(ctx, sess.ID)
	// 出站 history 只包含此前的轮次，本条消息通过 newMessage 发送
	outgoing := c.acc.Outgoing()

	rs, err := c.runtime.SendMessage(ctx, c.UserID(), sess.ID, client.Message{Text: text, StateDelta: outgoing})
	if err != nil {
		if errors.Is(err, bridgeerrors.ErrSessionNotFound) {
			// 下一轮重新创建
			_ = c.store.Clear(ctx)
		}
		c.logger.Warn("发送消息失败", "session_id", sess.ID, "error", err)
		tracing.EndSpan(span, err)
		return stream.Fail(err)
	}
	// runtime 接受了消息才记入用户轮次，失败重发时 history 不会重复
	c.acc.AppendTurn(state.RoleUser, text)
	s := c.adapter.Run(ctx, rs)
	go func() {
		tracing.EndSpan(span, s.Err())
	}()
	return s
}

// SendDocument 将已完成的文档抽取结果并入 state，并以一条汇总消息发送给 runtime
func (c *Conversation) SendDocument(ctx context.Context, results ...DocumentResult) *stream.EventStream {
	docs := map[string]any{}
	var lines []string
	for _, r := range results {
		if r.Err != nil || r.Fields == nil {
			continue
		}
		docs[r.Name] = r.Fields
		lines = append(lines, fmt.Sprintf("%s: %s", r.Name, summarizeFields(r.Fields)))
	}
	if len(docs) == 0 {
		return stream.Fail(bridgeerrors.Wrap(bridgeerrors.ErrInvalidArg, "没有已完成的文档"))
	}
	c.acc.Merge(map[string]any{DocumentsKey: docs})
	return c.Send(ctx, "I uploaded the following documents.\n"+strings.Join(lines, "\n"))
}

// ClearSession 丢弃缓存的 session 句柄并清空本地状态与历史
func (c *Conversation) ClearSession(ctx context.Context) error {
	c.acc.Reset()
	return c.store.Clear(ctx)
}

// HealthCheck runtime 探活
func (c *Conversation) HealthCheck(ctx context.Context) error {
	return c.runtime.HealthCheck(ctx)
}

// ListApps runtime 上可用的 app
func (c *Conversation) ListApps(ctx context.Context) ([]string, error) {
	return c.runtime.ListApps(ctx)
}

// Turns 已累积的轮次；仅在没有进行中的事件流时调用
func (c *Conversation) Turns() []state.Turn {
	return c.acc.Turns()
}

// State 已累积的 state；仅在没有进行中的事件流时调用
func (c *Conversation) State() map[string]any {
	return c.acc.State()
}

func summarizeFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, fields[k])
	}
	return strings.Join(parts, ", ")
}
