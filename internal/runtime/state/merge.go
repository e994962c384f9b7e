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

// MergeDelta 纯函数：对 incoming 中每个键，若已有值与新值均为对象（非数组）则递归合并，否则以新值覆盖。
// 只存在于 accumulated 的键永不丢弃；不修改任何入参。
func MergeDelta(accumulated, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(accumulated)+len(incoming))
	for k, v := range accumulated {
		out[k] = v
	}
	for k, in := range incoming {
		existing, ok := out[k].(map[string]any)
		next, isObj := in.(map[string]any)
		if ok && isObj {
			out[k] = MergeDelta(existing, next)
			continue
		}
		out[k] = deepCopyValue(in)
	}
	return out
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopy(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = deepCopyValue(e)
		}
		return cp
	default:
		return v
	}
}
