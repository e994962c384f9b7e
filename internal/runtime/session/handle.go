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

package session

import (
	"encoding/json"

	"agent-bridge/internal/runtime/client"
	bridgeerrors "agent-bridge/pkg/errors"
)

// ValidateHandle 校验持久化句柄的结构：id/appName/userId 为非空字符串，lastUpdateTime 为数字
func ValidateHandle(raw []byte) (*client.Session, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, bridgeerrors.NewValidationError("handle", "不是 JSON 对象")
	}
	for _, name := range []string{"id", "appName", "userId"} {
		v, ok := fields[name].(string)
		if !ok || v == "" {
			return nil, bridgeerrors.NewValidationError(name, "缺失或不是非空字符串")
		}
	}
	if _, ok := fields["lastUpdateTime"].(float64); !ok {
		return nil, bridgeerrors.NewValidationError("lastUpdateTime", "缺失或不是数字")
	}

	var sess client.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, bridgeerrors.NewValidationError("handle", err.Error())
	}
	return &sess, nil
}
