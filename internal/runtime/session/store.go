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
	"context"
	"encoding/json"
	"errors"
	"time"

	"agent-bridge/internal/runtime/client"
	"agent-bridge/internal/storage/cache"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
	"agent-bridge/pkg/metrics"
)

// DefaultTTL 缓存句柄的有效期窗口
const DefaultTTL = 24 * time.Hour

// DefaultPrefix 句柄在缓存中的键前缀
const DefaultPrefix = "bridge:session:"

// Runtime Store 依赖的 runtime 会话接口，*client.Client 实现了它
type Runtime interface {
	CreateSession(ctx context.Context, userID string, initial map[string]any) (*client.Session, error)
	GetSession(ctx context.Context, userID, sessionID string) (*client.Session, error)
}

// Store 管理单个客户端身份的 session 句柄：创建、恢复、校验、过期与清除。
// 状态：absent / valid / expired / invalid。归属一个会话 worker，非并发安全。
type Store struct {
	runtime Runtime
	cache   cache.Store
	userID  string
	prefix  string
	ttl     time.Duration
	initial map[string]any
	now     func() time.Time
	logger  *log.Logger
}

// Option Store 选项
type Option func(*Store)

// WithTTL 设置有效期窗口
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithPrefix 设置缓存键前缀
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithInitialState 新建 session 时携带的初始 state
func WithInitialState(st map[string]any) Option {
	return func(s *Store) { s.initial = st }
}

// WithLogger 注入 Logger
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// NewStore 创建 Store；c 为 nil 时使用内存缓存
func NewStore(rt Runtime, c cache.Store, userID string, opts ...Option) *Store {
	if c == nil {
		c = cache.NewMemoryStore()
	}
	s := &Store{
		runtime: rt,
		cache:   c,
		userID:  userID,
		prefix:  DefaultPrefix,
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.OrDefault(s.logger).With("component", "session_store", "user_id", userID)
	return s
}

// UserID 当前客户端身份
func (s *Store) UserID() string {
	return s.userID
}

func (s *Store) key() string {
	return s.prefix + s.userID
}

// GetOrCreate 缓存句柄在有效期内且 restore 成功时复用，否则新建并缓存。
// 返回值要么是 restore 确认存在的 session，要么是新建的 session；新建失败返回错误。
func (s *Store) GetOrCreate(ctx context.Context) (*client.Session, error) {
	if cached := s.load(ctx); cached != nil {
		if err := s.CheckExpiry(cached); err != nil {
			metrics.SessionLifecycleTotal.WithLabelValues("expired").Inc()
			s.logger.Info("缓存 session 已过期，重新创建", "session_id", cached.ID, "error", err)
			_ = s.Clear(ctx)
		} else if restored := s.Restore(ctx, cached.ID); restored != nil {
			return restored, nil
		}
	}

	created, err := s.runtime.CreateSession(ctx, s.userID, s.initial)
	if err != nil {
		return nil, bridgeerrors.Wrap(err, "创建 session 失败")
	}
	if created.LastUpdateTime == 0 {
		created.LastUpdateTime = epochSeconds(s.now())
	}
	if err := s.save(ctx, created); err != nil {
		s.logger.Warn("缓存 session 句柄失败", "session_id", created.ID, "error", err)
	}
	metrics.SessionLifecycleTotal.WithLabelValues("created").Inc()
	s.logger.Info("已创建 session", "session_id", created.ID)
	return created, nil
}

// Restore 向 runtime 重新获取 session；任何失败都会清除本地缓存并返回 nil
func (s *Store) Restore(ctx context.Context, sessionID string) *client.Session {
	restored, err := s.runtime.GetSession(ctx, s.userID, sessionID)
	if err == nil && restored.ID != sessionID {
		err = bridgeerrors.NewValidationError("id", "restore 返回的 session id 不一致")
	}
	if err != nil {
		metrics.SessionLifecycleTotal.WithLabelValues("restore_failed").Inc()
		s.logger.Warn("restore session 失败，清除本地缓存",
			"session_id", sessionID,
			"not_found", errors.Is(err, bridgeerrors.ErrSessionNotFound),
			"error", err)
		_ = s.Clear(ctx)
		return nil
	}
	if restored.LastUpdateTime == 0 {
		restored.LastUpdateTime = epochSeconds(s.now())
	}
	if err := s.save(ctx, restored); err != nil {
		s.logger.Warn("刷新 session 句柄失败", "session_id", restored.ID, "error", err)
	}
	metrics.SessionLifecycleTotal.WithLabelValues("restored").Inc()
	return restored
}

// Clear 丢弃缓存的句柄，不调用 runtime
func (s *Store) Clear(ctx context.Context) error {
	if err := s.cache.Delete(ctx, s.key()); err != nil {
		return bridgeerrors.Wrap(err, "清除 session 句柄失败")
	}
	metrics.SessionLifecycleTotal.WithLabelValues("cleared").Inc()
	return nil
}

// IsValid 纯时间校验：lastUpdateTime 距今小于 TTL。不发起网络请求，也不单独授权复用。
func (s *Store) IsValid(sess *client.Session) bool {
	return s.CheckExpiry(sess) == nil
}

// CheckExpiry 超出有效期返回 ErrSessionExpired，nil 句柄返回 ErrSessionNotFound
func (s *Store) CheckExpiry(sess *client.Session) error {
	if sess == nil {
		return bridgeerrors.Wrap(bridgeerrors.ErrSessionNotFound, "没有缓存的 session")
	}
	age := s.now().Sub(sess.UpdatedAt())
	if age >= s.ttl {
		return bridgeerrors.Wrapf(bridgeerrors.ErrSessionExpired, "session %s 已闲置 %s", sess.ID, age.Truncate(time.Second))
	}
	return nil
}

// Cached 返回当前缓存且结构合法的句柄，不做有效期与 restore 校验
func (s *Store) Cached(ctx context.Context) *client.Session {
	return s.load(ctx)
}

func (s *Store) load(ctx context.Context) *client.Session {
	raw, err := s.cache.Get(ctx, s.key())
	if errors.Is(err, bridgeerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("读取 session 句柄失败", "error", err)
		return nil
	}
	sess, err := ValidateHandle(raw)
	if err != nil {
		metrics.SessionLifecycleTotal.WithLabelValues("invalid").Inc()
		s.logger.Warn("缓存的 session 句柄结构不合法，视为不存在", "error", err)
		_ = s.cache.Delete(ctx, s.key())
		return nil
	}
	return sess
}

func (s *Store) save(ctx context.Context, sess *client.Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, s.key(), b, s.ttl)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
