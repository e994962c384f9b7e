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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"agent-bridge/internal/api/http/middleware"
	"agent-bridge/internal/runtime/stream"
)

// gatewayBackend 经由网关 HTTP 接口对话
type gatewayBackend struct {
	http *resty.Client
}

func newGatewayBackend(baseURL, clientID string) *gatewayBackend {
	return &gatewayBackend{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader(middleware.ClientIDHeader, clientID),
	}
}

// gatewayError 网关返回的 {"error": ...}
func gatewayError(method, path string, resp *resty.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(resp.Body(), &body) == nil && body.Error != "" {
		return errors.New(body.Error)
	}
	return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode(), resp.String())
}

func (g *gatewayBackend) HealthCheck(ctx context.Context) error {
	resp, err := g.http.R().SetContext(ctx).Get("/api/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return gatewayError("GET", "/api/health", resp)
	}
	return nil
}

func (g *gatewayBackend) ListApps(ctx context.Context) ([]string, error) {
	var out struct {
		Apps []string `json:"apps"`
	}
	resp, err := g.http.R().SetContext(ctx).SetResult(&out).Get("/api/apps")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, gatewayError("GET", "/api/apps", resp)
	}
	return out.Apps, nil
}

// Send 读取逐行 JSON 事件流，text-delta 交给 onDelta，error 事件转为错误返回
func (g *gatewayBackend) Send(ctx context.Context, text string, onDelta func(string)) error {
	resp, err := g.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/x-ndjson").
		SetBody(map[string]string{"message": text}).
		SetDoNotParseResponse(true).
		Post("/api/chat/send")
	if err != nil {
		return err
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(body, 2048))
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return errors.New(e.Error)
		}
		return fmt.Errorf("POST /api/chat/send: %d %s", resp.StatusCode(), raw)
	}

	sc := bufio.NewScanner(body)
	for sc.Scan() {
		var line struct {
			Type  stream.EventKind `json:"type"`
			Delta string           `json:"delta"`
			Error string           `json:"error"`
		}
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			continue
		}
		switch line.Type {
		case stream.KindDelta:
			onDelta(line.Delta)
		case stream.KindError:
			return errors.New(line.Error)
		case stream.KindFinish:
			return nil
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return errors.New("事件流意外结束")
}

func (g *gatewayBackend) ClearSession(ctx context.Context) error {
	resp, err := g.http.R().SetContext(ctx).Delete("/api/chat/session")
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusNoContent {
		return gatewayError("DELETE", "/api/chat/session", resp)
	}
	return nil
}

func (g *gatewayBackend) Close() error { return nil }
