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
package cache

import (
	"context"
	"time"
)

// Store 键值缓存接口，值为原始字节，由调用方负责编解码与结构校验
type Store interface {
	// Set 写入；expiration <= 0 表示不过期
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	// Get 读取；不存在或已过期返回 errors.ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete 删除；不存在不报错
	Delete(ctx context.Context, key string) error
	// Close 关闭连接
	Close() error
}
