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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Session    SessionConfig    `mapstructure:"session"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig 网关服务配置
type APIConfig struct {
	Port         int     `mapstructure:"port"`
	Host         string  `mapstructure:"host"`
	AllowOrigin  string  `mapstructure:"allow_origin"`   // CORS，默认 "*"
	RateLimitRPS float64 `mapstructure:"rate_limit_rps"` // 网关全局限流，<=0 不限流
	IdleTTL      string  `mapstructure:"idle_ttl"`       // 空闲会话 worker 回收时间，默认 24h
}

// RuntimeConfig 远端 agent runtime 连接配置
type RuntimeConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	AppName       string  `mapstructure:"app_name"`
	Timeout       string  `mapstructure:"timeout"`        // 单次请求硬超时，如 "30s"；超时不重试
	StreamTimeout string  `mapstructure:"stream_timeout"` // run_sse 读取响应体的总时长上限，如 "5m"
	RetryCount    int     `mapstructure:"retry_count"`    // 连接失败时的最大重试次数（不含首次）
	RetryBackoff  string  `mapstructure:"retry_backoff"`  // 首次退避，之后每次翻倍
	RateLimitRPS  float64 `mapstructure:"rate_limit_rps"` // 客户端侧限流，<=0 不限流
}

// SessionConfig Session 句柄缓存配置
type SessionConfig struct {
	TTL   string      `mapstructure:"ttl"` // 有效期窗口，默认 24h
	Store CacheConfig `mapstructure:"store"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
}

// StreamConfig 流适配器配置
type StreamConfig struct {
	QueueSize int `mapstructure:"queue_size"` // 生产者与消费者之间的有界队列长度
}

// DocumentsConfig 文档上传/解析协作方配置
type DocumentsConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	BatchSize    int    `mapstructure:"batch_size"`
	PollInterval string `mapstructure:"poll_interval"`
	Timeout      string `mapstructure:"timeout"`
}

// KnowledgeConfig 知识库查询协作方配置
type KnowledgeConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Timeout string `mapstructure:"timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.idle_ttl", "24h")
	v.SetDefault("runtime.base_url", "http://localhost:8000")
	v.SetDefault("runtime.timeout", "30s")
	v.SetDefault("runtime.stream_timeout", "5m")
	v.SetDefault("runtime.retry_count", 2)
	v.SetDefault("runtime.retry_backoff", "1s")
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.store.type", "memory")
	v.SetDefault("session.store.prefix", "bridge:session:")
	v.SetDefault("stream.queue_size", 16)
	v.SetDefault("documents.batch_size", 3)
	v.SetDefault("documents.poll_interval", "2s")
	v.SetDefault("documents.timeout", "2m")
	v.SetDefault("knowledge.timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 加载配置文件；configPath 为空时仅使用默认值与环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	// 替换环境变量
	if err := replaceEnvVars(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// replaceEnvVars 替换配置中 ${VAR} 形式的环境变量引用
func replaceEnvVars(config *Config) error {
	config.Session.Store.Password = expandEnv(config.Session.Store.Password)
	config.Runtime.BaseURL = expandEnv(config.Runtime.BaseURL)
	config.Documents.BaseURL = expandEnv(config.Documents.BaseURL)
	config.Knowledge.BaseURL = expandEnv(config.Knowledge.BaseURL)
	return nil
}

func expandEnv(s string) string {
	if !strings.HasPrefix(s, "$") {
		return s
	}
	envVar := strings.TrimPrefix(strings.TrimSuffix(s, "}"), "${")
	envVar = strings.TrimPrefix(envVar, "$")
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return s
}

// Validate 校验必填项与时长格式
func (c *Config) Validate() error {
	if c.Runtime.BaseURL == "" {
		return fmt.Errorf("runtime.base_url 不能为空")
	}
	for key, s := range map[string]string{
		"api.idle_ttl":            c.API.IdleTTL,
		"runtime.timeout":         c.Runtime.Timeout,
		"runtime.stream_timeout":  c.Runtime.StreamTimeout,
		"runtime.retry_backoff":   c.Runtime.RetryBackoff,
		"session.ttl":             c.Session.TTL,
		"documents.poll_interval": c.Documents.PollInterval,
		"documents.timeout":       c.Documents.Timeout,
		"knowledge.timeout":       c.Knowledge.Timeout,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("%s 格式错误 %q: %w", key, s, err)
		}
	}
	if c.Runtime.RetryCount < 0 {
		return fmt.Errorf("runtime.retry_count 不能为负数")
	}
	switch c.Session.Store.Type {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("不支持的 session.store.type: %s", c.Session.Store.Type)
	}
	return nil
}

// ParseDuration 解析时长字符串，无效或空时返回 defaultVal
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// LoadAPIConfig 加载网关配置（configs/api.yaml，可由 BRIDGE_CONFIG 覆盖路径）
func LoadAPIConfig() (*Config, error) {
	path := "configs/api.yaml"
	if p := os.Getenv("BRIDGE_CONFIG"); p != "" {
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		return LoadConfig("")
	}
	return LoadConfig(path)
}
