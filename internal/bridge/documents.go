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

package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"agent-bridge/internal/collab/documents"
	"agent-bridge/pkg/config"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
)

// DocumentFile 待处理的文件
type DocumentFile struct {
	Name    string
	Content []byte
}

// DocumentResult 单个文件的处理结果；Err 非空表示上传、解析或轮询失败
type DocumentResult struct {
	Name     string
	UploadID string
	Status   documents.Status
	Fields   map[string]any
	Err      error
}

// DocumentBatch 按固定批大小并发上传并轮询文档，限制同时在途的请求数
type DocumentBatch struct {
	docs         documents.Service
	batchSize    int
	pollInterval time.Duration
	timeout      time.Duration
	logger       *log.Logger
}

// NewDocumentBatch 创建批处理器
func NewDocumentBatch(docs documents.Service, cfg config.DocumentsConfig, logger *log.Logger) *DocumentBatch {
	size := cfg.BatchSize
	if size <= 0 {
		size = 3
	}
	return &DocumentBatch{
		docs:         docs,
		batchSize:    size,
		pollInterval: config.ParseDuration(cfg.PollInterval, 2*time.Second),
		timeout:      config.ParseDuration(cfg.Timeout, 2*time.Minute),
		logger:       log.OrDefault(logger).With("component", "document_batch"),
	}
}

// Process 依次处理每一批，批内并发；结果顺序与 files 一致。
// 单个文件失败记录在结果中，不影响其他文件；仅 ctx 取消时返回错误。
func (b *DocumentBatch) Process(ctx context.Context, sessionID string, files []DocumentFile) ([]DocumentResult, error) {
	results := make([]DocumentResult, len(files))
	for start := 0; start < len(files); start += b.batchSize {
		end := min(start+b.batchSize, len(files))
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = b.processOne(ctx, sessionID, files[i])
				return nil
			})
		}
		_ = g.Wait()
		if err := ctx.Err(); err != nil {
			return results, err
		}
		b.logger.Info("文档批次完成", "session_id", sessionID, "from", start, "to", end)
	}
	return results, nil
}

func (b *DocumentBatch) processOne(ctx context.Context, sessionID string, f DocumentFile) DocumentResult {
	res := DocumentResult{Name: f.Name}
	up, err := b.docs.Upload(ctx, sessionID, f.Name, bytes.NewReader(f.Content))
	if err != nil {
		res.Err = err
		res.Status = documents.StatusFailed
		return res
	}
	res.UploadID = up.ID
	final, err := b.poll(ctx, up)
	if err != nil {
		res.Err = err
		res.Status = documents.StatusFailed
		b.logger.Warn("文档处理失败", "name", f.Name, "upload_id", up.ID, "error", err)
		return res
	}
	res.Status = final.Status
	res.Fields = final.Fields
	return res
}

func (b *DocumentBatch) poll(ctx context.Context, up *documents.Upload) (*documents.Upload, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	cur := up
	for {
		switch cur.Status {
		case documents.StatusCompleted:
			return cur, nil
		case documents.StatusFailed:
			return nil, fmt.Errorf("文档 %s 处理失败: %s", up.Name, cur.Error)
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, bridgeerrors.Wrapf(bridgeerrors.ErrTimeout, "等待文档 %s", up.Name)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
		next, err := b.docs.Status(ctx, up.ID)
		if err != nil {
			return nil, err
		}
		cur = next
	}
}
