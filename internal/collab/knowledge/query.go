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

// Package knowledge 知识库查询协作方，对调用方而言是一个不透明的请求/响应函数
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"agent-bridge/pkg/config"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
)

// Citation 答案引用的来源片段
type Citation struct {
	Source string `json:"source"`
	Text   string `json:"text,omitempty"`
}

// Result 查询结果；Error 非空表示协作方自身报告失败
type Result struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Documents []string   `json:"documents,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// QueryFunc question -> Result
type QueryFunc func(ctx context.Context, question string) (*Result, error)

// NewHTTPQuery 返回基于 HTTP 的 QueryFunc：POST {base_url}/query {"question": ...}
func NewHTTPQuery(cfg config.KnowledgeConfig, logger *log.Logger) (QueryFunc, error) {
	if cfg.BaseURL == "" {
		return nil, bridgeerrors.Wrap(bridgeerrors.ErrInvalidArg, "knowledge base_url 不能为空")
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	timeout := config.ParseDuration(cfg.Timeout, 30*time.Second)
	logger = log.OrDefault(logger).With("component", "knowledge")

	return func(ctx context.Context, question string) (*Result, error) {
		if strings.TrimSpace(question) == "" {
			return nil, bridgeerrors.Wrap(bridgeerrors.ErrInvalidArg, "question 不能为空")
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		resp, err := httpClient.R().
			SetContext(ctx).
			SetBody(map[string]string{"question": question}).
			Post("/query")
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return nil, bridgeerrors.Wrap(bridgeerrors.ErrTimeout, "knowledge query")
			}
			return nil, bridgeerrors.Wrapf(bridgeerrors.ErrConnection, "knowledge query: %v", err)
		}
		if !resp.IsSuccess() {
			return nil, bridgeerrors.NewTransportError("knowledge_query", resp.StatusCode(), resp.String())
		}
		var out Result
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("解析知识库响应失败: %w", err)
		}
		if out.Error != "" {
			logger.Warn("知识库返回错误", "error", out.Error)
		}
		return &out, nil
	}, nil
}
