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

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"agent-bridge/internal/api/http/middleware"
	"agent-bridge/internal/bridge"
	"agent-bridge/internal/collab/knowledge"
	"agent-bridge/internal/runtime/state"
	"agent-bridge/internal/runtime/stream"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/metrics"
)

// ConversationFactory 为一个客户端身份创建会话 worker
type ConversationFactory func(clientID string) *bridge.Conversation

// Prober runtime 探活与能力查询
type Prober interface {
	HealthCheck(ctx context.Context) error
	ListApps(ctx context.Context) ([]string, error)
}

type conversationEntry struct {
	conv     *bridge.Conversation
	busy     atomic.Bool
	lastUsed atomic.Int64
}

// Handler HTTP 处理器
type Handler struct {
	factory   ConversationFactory
	runtime   Prober
	docs      *bridge.DocumentBatch
	knowledge knowledge.QueryFunc
	idleTTL   time.Duration
	now       func() time.Time

	mu    sync.Mutex
	convs map[string]*conversationEntry
}

// NewHandler 创建新的 HTTP 处理器
func NewHandler(factory ConversationFactory, runtime Prober) *Handler {
	return &Handler{
		factory: factory,
		runtime: runtime,
		idleTTL: 24 * time.Hour,
		now:     time.Now,
		convs:   make(map[string]*conversationEntry),
	}
}

// SetDocuments 启用文档上传路由
func (h *Handler) SetDocuments(b *bridge.DocumentBatch) {
	h.docs = b
}

// SetKnowledge 启用知识库查询路由
func (h *Handler) SetKnowledge(q knowledge.QueryFunc) {
	h.knowledge = q
}

// SetIdleTTL 空闲超过 d 的会话 worker 在下次查找时被回收
func (h *Handler) SetIdleTTL(d time.Duration) {
	if d > 0 {
		h.idleTTL = d
	}
}

// clientID 读取 X-Client-ID，缺失时分配新身份；结果总是回写到响应头
func clientID(ctx *app.RequestContext) string {
	id := strings.TrimSpace(string(ctx.GetHeader(middleware.ClientIDHeader)))
	if id == "" {
		id = uuid.New().String()
	}
	ctx.Header(middleware.ClientIDHeader, id)
	return id
}

func (h *Handler) conversation(id string) *conversationEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for k, e := range h.convs {
		if k != id && !e.busy.Load() && now.Sub(time.Unix(0, e.lastUsed.Load())) > h.idleTTL {
			delete(h.convs, k)
		}
	}
	e, ok := h.convs[id]
	if !ok {
		e = &conversationEntry{conv: h.factory(id)}
		h.convs[id] = e
	}
	e.lastUsed.Store(now.UnixNano())
	return e
}

// acquire 占用会话；已有一轮在进行时写入 409 并返回 nil
func (h *Handler) acquire(ctx *app.RequestContext) *conversationEntry {
	e := h.conversation(clientID(ctx))
	if !e.busy.CompareAndSwap(false, true) {
		ctx.JSON(consts.StatusConflict, map[string]string{"error": "上一条回复尚未结束"})
		return nil
	}
	return e
}

func writeError(ctx *app.RequestContext, err error) {
	code := consts.StatusBadGateway
	switch {
	case bridgeerrors.IsValidationError(err), errors.Is(err, bridgeerrors.ErrInvalidArg):
		code = consts.StatusBadRequest
	case errors.Is(err, bridgeerrors.ErrTimeout):
		code = consts.StatusGatewayTimeout
	}
	ctx.JSON(code, map[string]string{"error": bridgeerrors.UserMessage(err)})
}

// CreateSession POST /api/chat/session
func (h *Handler) CreateSession(c context.Context, ctx *app.RequestContext) {
	e := h.acquire(ctx)
	if e == nil {
		return
	}
	defer e.busy.Store(false)
	sess, err := e.conv.GetOrCreateSession(c)
	if err != nil {
		hlog.CtxWarnf(c, "获取 session 失败: %v", err)
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"client_id":        e.conv.UserID(),
		"session_id":       sess.ID,
		"app_name":         sess.AppName,
		"last_update_time": sess.LastUpdateTime,
	})
}

// ClearSession DELETE /api/chat/session
func (h *Handler) ClearSession(c context.Context, ctx *app.RequestContext) {
	e := h.acquire(ctx)
	if e == nil {
		return
	}
	defer e.busy.Store(false)
	if err := e.conv.ClearSession(c); err != nil {
		hlog.CtxWarnf(c, "清除 session 失败: %v", err)
		writeError(ctx, err)
		return
	}
	ctx.Status(consts.StatusNoContent)
}

// History GET /api/chat/history
func (h *Handler) History(c context.Context, ctx *app.RequestContext) {
	e := h.acquire(ctx)
	if e == nil {
		return
	}
	defer e.busy.Store(false)
	turns := e.conv.Turns()
	if turns == nil {
		turns = []state.Turn{}
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{"turns": turns})
}

type sendRequest struct {
	Message string `json:"message"`
}

// SendMessage POST /api/chat/send，响应体为逐行 JSON 的事件流
func (h *Handler) SendMessage(c context.Context, ctx *app.RequestContext) {
	var req sendRequest
	if err := ctx.BindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "message is required"})
		return
	}
	e := h.acquire(ctx)
	if e == nil {
		return
	}
	// 响应体在处理函数返回后才被写出，事件流不能绑定请求 ctx
	s := e.conv.Send(context.Background(), req.Message)
	streamEvents(ctx, s, func() { e.busy.Store(false) })
}

// eventLine 事件流的一行；error 事件附带面向用户的提示
type eventLine struct {
	stream.Event
	Error string `json:"error,omitempty"`
}

func streamEvents(ctx *app.RequestContext, s *stream.EventStream, release func()) {
	pr, pw := io.Pipe()
	go func() {
		err := writeEvents(pw, s)
		// 先释放会话再结束响应体，客户端读完即可发起下一轮
		s.Close()
		release()
		_ = pw.CloseWithError(err)
	}()
	ctx.SetStatusCode(consts.StatusOK)
	ctx.SetContentType("application/x-ndjson")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.SetBodyStream(pr, -1)
}

func writeEvents(w io.Writer, s *stream.EventStream) error {
	enc := json.NewEncoder(w)
	for ev := range s.Events() {
		line := eventLine{Event: ev}
		if ev.Kind == stream.KindError {
			line.Error = bridgeerrors.UserMessage(ev.Err)
		}
		if err := enc.Encode(line); err != nil {
			// 客户端已断开，Close 会中止上游读取
			hlog.Debugf("事件流写出中断: stream=%s err=%v", s.ID(), err)
			return err
		}
	}
	return nil
}

// UploadDocuments POST /api/chat/documents，multipart 字段 files；
// 文件按批处理后，抽取结果作为一轮对话发送给 runtime
func (h *Handler) UploadDocuments(c context.Context, ctx *app.RequestContext) {
	if h.docs == nil {
		ctx.JSON(consts.StatusNotImplemented, map[string]string{"error": "documents service not configured"})
		return
	}
	form, err := ctx.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "files is required"})
		return
	}
	var files []bridge.DocumentFile
	for _, fh := range form.File["files"] {
		f, err := fh.Open()
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "无法读取文件: " + fh.Filename})
			return
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "无法读取文件: " + fh.Filename})
			return
		}
		files = append(files, bridge.DocumentFile{Name: fh.Filename, Content: content})
	}

	e := h.acquire(ctx)
	if e == nil {
		return
	}
	defer e.busy.Store(false)
	sess, err := e.conv.GetOrCreateSession(c)
	if err != nil {
		writeError(ctx, err)
		return
	}
	results, err := h.docs.Process(c, sess.ID, files)
	if err != nil {
		writeError(ctx, err)
		return
	}

	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		item := map[string]interface{}{"name": r.Name, "upload_id": r.UploadID, "status": r.Status}
		if r.Err != nil {
			item["error"] = bridgeerrors.UserMessage(r.Err)
		} else {
			item["fields"] = r.Fields
		}
		out[i] = item
	}
	resp := map[string]interface{}{"documents": out}

	s := e.conv.SendDocument(c, results...)
	var reply strings.Builder
	for _, ev := range s.Collect() {
		if ev.Kind == stream.KindDelta {
			reply.WriteString(ev.Delta)
		}
	}
	if err := s.Err(); err != nil {
		resp["error"] = bridgeerrors.UserMessage(err)
	} else {
		resp["reply"] = reply.String()
	}
	ctx.JSON(consts.StatusOK, resp)
}

// HealthCheck GET /api/health，同时探测 runtime
func (h *Handler) HealthCheck(c context.Context, ctx *app.RequestContext) {
	if err := h.runtime.HealthCheck(c); err != nil {
		ctx.JSON(consts.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  bridgeerrors.UserMessage(err),
		})
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{"status": "ok"})
}

// ListApps GET /api/apps
func (h *Handler) ListApps(c context.Context, ctx *app.RequestContext) {
	apps, err := h.runtime.ListApps(c)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{"apps": apps})
}

type knowledgeRequest struct {
	Question string `json:"question"`
}

// QueryKnowledge POST /api/knowledge/query
func (h *Handler) QueryKnowledge(c context.Context, ctx *app.RequestContext) {
	if h.knowledge == nil {
		ctx.JSON(consts.StatusNotImplemented, map[string]string{"error": "knowledge service not configured"})
		return
	}
	var req knowledgeRequest
	if err := ctx.BindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "question is required"})
		return
	}
	res, err := h.knowledge(c, req.Question)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, res)
}

// Metrics GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
