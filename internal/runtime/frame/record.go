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

package frame

import "strings"

// Part 消息片段；runtime 目前只产出文本片段
type Part struct {
	Text string `json:"text,omitempty"`
}

// Content 一条消息内容
type Content struct {
	Parts []Part `json:"parts,omitempty"`
	Role  string `json:"role,omitempty"`
}

// UsageMetadata token 用量
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// Actions runtime 随事件提出的副作用
type Actions struct {
	StateDelta           map[string]any `json:"stateDelta,omitempty"`
	ArtifactDelta        map[string]any `json:"artifactDelta,omitempty"`
	RequestedAuthConfigs map[string]any `json:"requestedAuthConfigs,omitempty"`
}

// Record 一行 `data: <json>` 解码后的协议记录
type Record struct {
	ID            string         `json:"id,omitempty"`
	InvocationID  string         `json:"invocationId,omitempty"`
	Author        string         `json:"author,omitempty"`
	Timestamp     float64        `json:"timestamp,omitempty"`
	Content       *Content       `json:"content,omitempty"`
	Partial       bool           `json:"partial,omitempty"`
	TurnComplete  bool           `json:"turnComplete,omitempty"`
	FinishReason  string         `json:"finishReason,omitempty"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
	Actions       *Actions       `json:"actions,omitempty"`
	ErrorCode     string         `json:"errorCode,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
}

// Text 拼接所有文本片段
func (r Record) Text() string {
	if r.Content == nil {
		return ""
	}
	if len(r.Content.Parts) == 1 {
		return r.Content.Parts[0].Text
	}
	var b strings.Builder
	for _, p := range r.Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// StateDelta 返回本条记录携带的 stateDelta，可能为 nil
func (r Record) StateDelta() map[string]any {
	if r.Actions == nil {
		return nil
	}
	return r.Actions.StateDelta
}

// Complete 是否为本轮终止记录：turnComplete 或带 finishReason
func (r Record) Complete() bool {
	return r.TurnComplete || r.FinishReason != ""
}
