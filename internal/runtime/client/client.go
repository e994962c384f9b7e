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

// Package client 远端 agent runtime 的 HTTP 客户端：会话管理、run_sse 流式消息、artifact 上传与探活。
// 每次调用施加硬超时（超时不重试），仅对瞬时连接失败按指数退避重试。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"agent-bridge/pkg/config"
	bridgeerrors "agent-bridge/pkg/errors"
	"agent-bridge/pkg/log"
	"agent-bridge/pkg/metrics"
	"agent-bridge/pkg/tracing"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultStreamTimeout = 5 * time.Minute
	defaultRetryBackoff  = time.Second
)

// Client runtime 客户端，并发安全，多个会话可共享
type Client struct {
	http          *resty.Client
	appName       string
	timeout       time.Duration
	streamTimeout time.Duration
	retryCount    int
	retryBackoff  time.Duration
	limiter       *rate.Limiter
	logger        *log.Logger
}

// Option 客户端选项
type Option func(*Client)

// WithLogger 注入 Logger
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTransport 替换底层 RoundTripper（测试注入故障）
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.SetTransport(rt) }
}

// WithRateLimit 客户端侧限流，rps <= 0 不限流
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// New 根据 runtime 配置创建客户端
func New(cfg config.RuntimeConfig, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, bridgeerrors.Wrap(bridgeerrors.ErrInvalidArg, "runtime base_url 不能为空")
	}
	if cfg.AppName == "" {
		return nil, bridgeerrors.Wrap(bridgeerrors.ErrInvalidArg, "runtime app_name 不能为空")
	}
	retry := cfg.RetryCount
	if retry < 0 {
		retry = 0
	}
	c := &Client{
		// 超时由每次调用的 context 控制，不使用 resty 自带超时与重试
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetHeader("Accept", "application/json"),
		appName:       cfg.AppName,
		timeout:       config.ParseDuration(cfg.Timeout, defaultTimeout),
		streamTimeout: config.ParseDuration(cfg.StreamTimeout, defaultStreamTimeout),
		retryCount:    retry,
		retryBackoff:  config.ParseDuration(cfg.RetryBackoff, defaultRetryBackoff),
	}
	WithRateLimit(cfg.RateLimitRPS)(c)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.OrDefault(c.logger).With("component", "runtime_client", "app", c.appName)
	c.http.SetLogger(restyLogger{logger: c.logger})
	return c, nil
}

// AppName 当前 app 标识
func (c *Client) AppName() string {
	return c.appName
}

func (c *Client) sessionsPath(userID string) string {
	return fmt.Sprintf("/apps/%s/users/%s/sessions", url.PathEscape(c.appName), url.PathEscape(userID))
}

func (c *Client) sessionPath(userID, sessionID string) string {
	return c.sessionsPath(userID) + "/" + url.PathEscape(sessionID)
}

// CreateSession 创建会话
func (c *Client) CreateSession(ctx context.Context, userID string, initial map[string]any) (*Session, error) {
	var body any = map[string]any{}
	if len(initial) > 0 {
		body = map[string]any{"state": initial}
	}
	resp, err := c.call(ctx, "create_session", "", func(r *resty.Request) (*resty.Response, error) {
		return r.SetHeader("Content-Type", "application/json").SetBody(body).Post(c.sessionsPath(userID))
	})
	if err != nil {
		return nil, err
	}
	return decodeSession("create_session", resp)
}

// GetSession 获取会话；runtime 返回 404 时错误满足 errors.Is(err, ErrSessionNotFound)
func (c *Client) GetSession(ctx context.Context, userID, sessionID string) (*Session, error) {
	resp, err := c.call(ctx, "get_session", sessionID, func(r *resty.Request) (*resty.Response, error) {
		return r.Get(c.sessionPath(userID, sessionID))
	})
	if err != nil {
		return nil, err
	}
	return decodeSession("get_session", resp)
}

// DeleteSession 删除会话
func (c *Client) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := c.call(ctx, "delete_session", sessionID, func(r *resty.Request) (*resty.Response, error) {
		return r.Delete(c.sessionPath(userID, sessionID))
	})
	return err
}

// UploadArtifact 以 multipart 上传文件到会话
func (c *Client) UploadArtifact(ctx context.Context, userID, sessionID, name string, content io.Reader) (*Artifact, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("读取 artifact 内容失败: %w", err)
	}
	resp, err := c.call(ctx, "upload_artifact", sessionID, func(r *resty.Request) (*resty.Response, error) {
		return r.SetFileReader("file", name, bytes.NewReader(data)).
			SetFormData(map[string]string{"filename": name}).
			Post(c.sessionPath(userID, sessionID) + "/artifacts")
	})
	if err != nil {
		return nil, err
	}
	out := &Artifact{Name: name}
	if len(resp.Body()) > 0 {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return nil, fmt.Errorf("解析 artifact 响应失败: %w", err)
		}
	}
	return out, nil
}

// HealthCheck GET /health，2xx 视为健康
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.call(ctx, "health", "", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/health")
	})
	return err
}

// ListApps GET /list-apps
func (c *Client) ListApps(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, "list_apps", "", func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/list-apps")
	})
	if err != nil {
		return nil, err
	}
	var apps []string
	if err := json.Unmarshal(resp.Body(), &apps); err != nil {
		return nil, fmt.Errorf("解析 list-apps 响应失败: %w", err)
	}
	return apps, nil
}

// call 对非流式请求施加超时、重试与非 2xx 转换
func (c *Client) call(ctx context.Context, op, sessionID string, send func(*resty.Request) (*resty.Response, error)) (resp *resty.Response, err error) {
	ctx, span := tracing.StartRuntimeSpan(ctx, op, sessionID)
	start := time.Now()
	defer func() {
		observe(op, start, err)
		tracing.EndSpan(span, err)
	}()

	err = c.retry(ctx, op, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		r, sendErr := send(c.http.R().SetContext(callCtx))
		if sendErr != nil {
			return classify(ctx, op, sendErr)
		}
		if !r.IsSuccess() {
			return backoff.Permanent(bridgeerrors.NewTransportError(op, r.StatusCode(), truncate(r.String(), 2048)))
		}
		resp = r
		return nil
	})
	return resp, err
}

// retry 仅对 ErrConnection 重试，退避从 retryBackoff 起每次翻倍，无抖动
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBackoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.retryBackoff << uint(min(c.retryCount, 10))
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retryCount)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		err := fn()
		var perm *backoff.PermanentError
		if err == nil || errors.As(err, &perm) || errors.Is(err, bridgeerrors.ErrConnection) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, func(err error, wait time.Duration) {
		metrics.RuntimeRetryTotal.WithLabelValues(op).Inc()
		c.logger.Warn("runtime 连接失败，准备重试", "op", op, "attempt", attempt, "wait", wait, "error", err)
	})
	return err
}

// classify 将底层请求错误归类为超时 / 连接失败 / 其他，超时与其他错误不重试
func classify(parent context.Context, op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return backoff.Permanent(bridgeerrors.Wrap(bridgeerrors.ErrTimeout, op))
	case parent.Err() != nil:
		return backoff.Permanent(fmt.Errorf("%s: %w", op, parent.Err()))
	case isConnectionError(err):
		return bridgeerrors.Wrapf(bridgeerrors.ErrConnection, "%s: %v", op, err)
	default:
		return backoff.Permanent(fmt.Errorf("%s: %w", op, err))
	}
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

func observe(op string, start time.Time, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, bridgeerrors.ErrTimeout):
		result = "timeout"
	case errors.Is(err, bridgeerrors.ErrConnection):
		result = "connection"
	case bridgeerrors.IsTransportError(err):
		result = "status"
	default:
		result = "error"
	}
	metrics.RuntimeRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.RuntimeRequestTotal.WithLabelValues(op, result).Inc()
}

func decodeSession(op string, resp *resty.Response) (*Session, error) {
	var s Session
	if err := json.Unmarshal(resp.Body(), &s); err != nil {
		return nil, fmt.Errorf("%s: 解析 session 失败: %w", op, err)
	}
	if s.ID == "" {
		return nil, bridgeerrors.Wrapf(bridgeerrors.NewValidationError("id", "缺少 session id"), "%s", op)
	}
	return &s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// restyLogger 将 resty 内部日志转到 slog，错误由调用方统一记录，此处降级为 debug
type restyLogger struct {
	logger *log.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "source", "resty")
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "source", "resty")
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...), "source", "resty")
}
