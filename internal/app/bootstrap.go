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

package app

import (
	"context"
	"fmt"

	"agent-bridge/internal/bridge"
	"agent-bridge/internal/collab/documents"
	"agent-bridge/internal/collab/knowledge"
	"agent-bridge/internal/runtime/client"
	"agent-bridge/internal/runtime/session"
	"agent-bridge/internal/storage/cache"
	"agent-bridge/pkg/config"
	"agent-bridge/pkg/log"
)

// Bootstrap 统一初始化：供 api 与 cli 复用，避免在 cmd 内装配组件
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Cache   cache.Store
	Runtime *client.Client
	// Documents 与 Knowledge 未配置 base_url 时为 nil
	Documents *bridge.DocumentBatch
	Knowledge knowledge.QueryFunc
}

// NewBootstrap 根据配置创建 Bootstrap（Logger/Cache/Runtime 客户端/协作方）
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	handles, err := cache.NewCache(ctx, cfg.Session.Store)
	if err != nil {
		return nil, fmt.Errorf("初始化 session 缓存失败: %w", err)
	}

	rt, err := client.New(cfg.Runtime, client.WithLogger(logger))
	if err != nil {
		_ = handles.Close()
		return nil, fmt.Errorf("初始化 runtime 客户端失败: %w", err)
	}

	b := &Bootstrap{
		Config:  cfg,
		Logger:  logger,
		Cache:   handles,
		Runtime: rt,
	}

	if cfg.Documents.BaseURL != "" {
		svc, err := documents.NewHTTPService(cfg.Documents, logger)
		if err != nil {
			_ = handles.Close()
			return nil, fmt.Errorf("初始化文档服务失败: %w", err)
		}
		b.Documents = bridge.NewDocumentBatch(svc, cfg.Documents, logger)
	}
	if cfg.Knowledge.BaseURL != "" {
		q, err := knowledge.NewHTTPQuery(cfg.Knowledge, logger)
		if err != nil {
			_ = handles.Close()
			return nil, fmt.Errorf("初始化知识库查询失败: %w", err)
		}
		b.Knowledge = q
	}
	return b, nil
}

// NewConversation 为客户端身份创建会话 worker，session 句柄共享同一缓存
func (b *Bootstrap) NewConversation(clientID string) *bridge.Conversation {
	opts := []session.Option{
		session.WithTTL(config.ParseDuration(b.Config.Session.TTL, session.DefaultTTL)),
		session.WithLogger(b.Logger),
	}
	if b.Config.Session.Store.Prefix != "" {
		opts = append(opts, session.WithPrefix(b.Config.Session.Store.Prefix))
	}
	store := session.NewStore(b.Runtime, b.Cache, clientID, opts...)
	return bridge.NewConversation(b.Runtime, store,
		bridge.WithQueueSize(b.Config.Stream.QueueSize),
		bridge.WithLogger(b.Logger),
	)
}

// Close 释放缓存连接
func (b *Bootstrap) Close() error {
	if b.Cache != nil {
		return b.Cache.Close()
	}
	return nil
}
