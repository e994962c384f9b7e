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
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"agent-bridge/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler       *Handler
	middleware    *middleware.Middleware
	rateLimitRPS  float64
	enableMetrics bool
	extra         []app.HandlerFunc
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{
		handler:       handler,
		middleware:    mw,
		enableMetrics: true,
	}
}

// SetRateLimit 网关全局限流，rps<=0 不限流
func (r *Router) SetRateLimit(rps float64) {
	r.rateLimitRPS = rps
}

// SetMetricsEnabled 是否注册 /metrics
func (r *Router) SetMetricsEnabled(enable bool) {
	r.enableMetrics = enable
}

// Use 追加全局中间件，需在 Build/Register 之前调用
func (r *Router) Use(mw ...app.HandlerFunc) {
	r.extra = append(r.extra, mw...)
}

// Build 创建 Hertz 服务并注册路由，addr 如 ":8080"
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	r.Register(h)
	return h
}

// Register 在已有 Hertz 实例上注册中间件与路由
func (r *Router) Register(h *server.Hertz) {
	h.Use(r.extra...)
	h.Use(r.middleware.Logger(), r.middleware.CORS())

	api := h.Group("/api", r.middleware.RateLimit(r.rateLimitRPS))
	api.GET("/health", r.handler.HealthCheck)
	api.GET("/apps", r.handler.ListApps)

	chat := api.Group("/chat")
	{
		chat.POST("/session", r.handler.CreateSession)
		chat.DELETE("/session", r.handler.ClearSession)
		chat.GET("/history", r.handler.History)
		chat.POST("/send", r.handler.SendMessage)
		chat.POST("/documents", r.handler.UploadDocuments)
	}

	api.POST("/knowledge/query", r.handler.QueryKnowledge)

	if r.enableMetrics {
		h.GET("/metrics", r.handler.Metrics)
	}
}
