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

package state

import "time"

// Role 对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryKey 出站 state 中承载对话历史的键
const HistoryKey = "conversation_history"

// Turn 一条对话轮次（只追加）
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"-"`
}

// Accumulator 累积 runtime 提出的 stateDelta 与对话轮次。
// 由单个会话 worker 独占，非并发安全；每个会话各自构造一个实例。
type Accumulator struct {
	state map[string]any
	turns []Turn
}

// New 创建空的 Accumulator
func New() *Accumulator {
	return &Accumulator{state: make(map[string]any)}
}

// Merge 将 delta 递归合并进累积状态
func (a *Accumulator) Merge(delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	a.state = MergeDelta(a.state, delta)
}

// AppendTurn 追加一轮；每条出站用户消息与每条完整的助手回复各调用一次
func (a *Accumulator) AppendTurn(role Role, text string) {
	a.turns = append(a.turns, Turn{Role: role, Text: text, Timestamp: time.Now()})
}

// History 按 runtime 期望的形状渲染轮次列表
func (a *Accumulator) History() []map[string]any {
	out := make([]map[string]any, len(a.turns))
	for i, t := range a.turns {
		out[i] = map[string]any{"role": string(t.Role), "text": t.Text}
	}
	return out
}

// Outgoing 构造下一次请求携带的 stateDelta：累积状态 + 对话历史
func (a *Accumulator) Outgoing() map[string]any {
	out := deepCopy(a.state)
	out[HistoryKey] = a.History()
	return out
}

// State 返回累积状态的深拷贝
func (a *Accumulator) State() map[string]any {
	return deepCopy(a.state)
}

// Turns 返回轮次副本
func (a *Accumulator) Turns() []Turn {
	if len(a.turns) == 0 {
		return nil
	}
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Reset 清空状态与历史（清除会话时调用）
func (a *Accumulator) Reset() {
	a.state = make(map[string]any)
	a.turns = nil
}
