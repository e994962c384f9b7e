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
package client

import (
	"time"

	"agent-bridge/internal/runtime/frame"
)

// Session runtime 侧会话，仅由 runtime 响应修改
type Session struct {
	ID             string           `json:"id"`
	AppName        string           `json:"appName"`
	UserID         string           `json:"userId"`
	State          map[string]any   `json:"state,omitempty"`
	Events         []map[string]any `json:"events,omitempty"`
	LastUpdateTime float64          `json:"lastUpdateTime"`
}

// UpdatedAt lastUpdateTime（epoch 秒）转为 time.Time
func (s *Session) UpdatedAt() time.Time {
	sec := int64(s.LastUpdateTime)
	nsec := int64((s.LastUpdateTime - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// Message 发送给 runtime 的一条用户消息
type Message struct {
	Text       string
	StateDelta map[string]any
}

// MessageRequest run_sse 请求体
type MessageRequest struct {
	AppName    string         `json:"appName"`
	UserID     string         `json:"userId"`
	SessionID  string         `json:"sessionId"`
	NewMessage frame.Content  `json:"newMessage"`
	Streaming  bool           `json:"streaming"`
	StateDelta map[string]any `json:"stateDelta,omitempty"`
}

// Artifact 上传结果
type Artifact struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}
