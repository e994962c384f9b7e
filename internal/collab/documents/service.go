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

// Package documents 文档上传与字段抽取协作方的客户端
package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"agent-bridge/pkg/config"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
)

// Status 上传处理状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Done 是否为终态
func (s Status) Done() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Upload 上传句柄及其当前状态；completed 时 Fields 为抽取结果
type Upload struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	SessionID string         `json:"sessionId"`
	Status    Status         `json:"status"`
	Fields    map[string]any `json:"fields,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Service 文档协作方接口
type Service interface {
	Upload(ctx context.Context, sessionID, name string, content io.Reader) (*Upload, error)
	Status(ctx context.Context, uploadID string) (*Upload, error)
}

// HTTPService 基于 HTTP 的实现：POST /documents 上传，GET /documents/{id} 查询
type HTTPService struct {
	http    *resty.Client
	timeout time.Duration
	logger  *log.Logger
}

// NewHTTPService 创建文档服务客户端
func NewHTTPService(cfg config.DocumentsConfig, logger *log.Logger) (*HTTPService, error) {
	if cfg.BaseURL == "" {
		return nil, bridgeerrors.Wrap(bridgeerrors.ErrInvalidArg, "documents base_url 不能为空")
	}
	return &HTTPService{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetHeader("Accept", "application/json"),
		timeout: config.ParseDuration(cfg.Timeout, 2*time.Minute),
		logger:  log.OrDefault(logger).With("component", "documents"),
	}, nil
}

// Upload 上传文件，返回处理句柄
func (s *HTTPService) Upload(ctx context.Context, sessionID, name string, content io.Reader) (*Upload, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.http.R().
		SetContext(ctx).
		SetFileReader("file", name, bytes.NewReader(data)).
		SetFormData(map[string]string{"session_id": sessionID}).
		Post("/documents")
	if err != nil {
		return nil, fmt.Errorf("上传文档失败: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, bridgeerrors.NewTransportError("upload_document", resp.StatusCode(), resp.String())
	}
	var up Upload
	if err := json.Unmarshal(resp.Body(), &up); err != nil {
		return nil, fmt.Errorf("解析上传响应失败: %w", err)
	}
	if up.Name == "" {
		up.Name = name
	}
	if up.SessionID == "" {
		up.SessionID = sessionID
	}
	s.logger.Info("文档已上传", "upload_id", up.ID, "name", name, "session_id", sessionID)
	return &up, nil
}

// Status 查询处理状态
func (s *HTTPService) Status(ctx context.Context, uploadID string) (*Upload, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.http.R().
		SetContext(ctx).
		Get("/documents/" + url.PathEscape(uploadID))
	if err != nil {
		return nil, fmt.Errorf("查询文档状态失败: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, bridgeerrors.NewTransportError("document_status", resp.StatusCode(), resp.String())
	}
	var up Upload
	if err := json.Unmarshal(resp.Body(), &up); err != nil {
		return nil, fmt.Errorf("解析状态响应失败: %w", err)
	}
	return &up, nil
}
