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

package main

import (
	"context"
	"fmt"
	"os"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"agent-bridge/internal/app"
	"agent-bridge/internal/bridge"
	"agent-bridge/internal/runtime/stream"
	"agent-bridge/pkg/config"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/tracing"
)

// backend chat/health/apps/session 命令的执行端：进程内直连 runtime，或经由网关
type backend interface {
	HealthCheck(ctx context.Context) error
	ListApps(ctx context.Context) ([]string, error)
	Send(ctx context.Context, text string, onDelta func(string)) error
	ClearSession(ctx context.Context) error
	Close() error
}

// localBackend 进程内装配 bridge，直连 runtime
type localBackend struct {
	boot *app.Bootstrap
	conv *bridge.Conversation
	tp   *sdktrace.TracerProvider
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadAPIConfig()
	}
	return config.LoadConfig(path)
}

func newLocalBackend(ctx context.Context, opts *cliOptions) (*localBackend, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}
	boot, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := &localBackend{boot: boot, conv: boot.NewConversation(opts.clientID)}

	tc := cfg.Monitoring.Tracing
	endpoint := tc.ExportEndpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if tc.Enable && endpoint != "" {
		name := tc.ServiceName
		if name == "" {
			name = "agent-bridge-cli"
		}
		tp, err := tracing.InitTracer(tracing.OTelConfig{ServiceName: name, ExportEndpoint: endpoint, Insecure: tc.Insecure})
		if err != nil {
			boot.Logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			b.tp = tp
		}
	}
	return b, nil
}

func (b *localBackend) HealthCheck(ctx context.Context) error {
	return userError(b.conv.HealthCheck(ctx))
}

func (b *localBackend) ListApps(ctx context.Context) ([]string, error) {
	apps, err := b.conv.ListApps(ctx)
	return apps, userError(err)
}

func (b *localBackend) Send(ctx context.Context, text string, onDelta func(string)) error {
	s := b.conv.Send(ctx, text)
	defer s.Close()
	for ev := range s.Events() {
		if ev.Kind == stream.KindDelta {
			onDelta(ev.Delta)
		}
	}
	return userError(s.Err())
}

func (b *localBackend) ClearSession(ctx context.Context) error {
	return userError(b.conv.ClearSession(ctx))
}

func (b *localBackend) Close() error {
	if b.tp != nil {
		_ = b.tp.Shutdown(context.Background())
	}
	return b.boot.Close()
}

// userError 面向用户的提示在前，原始错误保留在链上
func userError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s (%w)", bridgeerrors.UserMessage(err), err)
}
