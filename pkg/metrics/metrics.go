package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供网关与 CLI 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RuntimeRequestDuration, RuntimeRequestTotal, RuntimeRetryTotal,
		StreamEventTotal, MalformedFrameTotal,
		SessionLifecycleTotal, ActiveStreams,
	)
}

// RuntimeRequestDuration runtime 调用耗时（秒，不含流式响应体读取）
var RuntimeRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "bridge_runtime_request_duration_seconds",
		Help:    "runtime 调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"},
)

// RuntimeRequestTotal runtime 调用总数（按结果）
var RuntimeRequestTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bridge_runtime_request_total",
		Help: "runtime 调用总数",
	},
	[]string{"op", "result"}, // ok | timeout | connection | transport | canceled
)

// RuntimeRetryTotal 因连接失败触发的重试次数
var RuntimeRetryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bridge_runtime_retry_total",
		Help: "runtime 调用重试次数",
	},
	[]string{"op"},
)

// StreamEventTotal 流适配器发出的事件数
var StreamEventTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bridge_stream_event_total",
		Help: "流适配器发出的事件数",
	},
	[]string{"kind"}, // text-start | text-delta | text-end | finish | error
)

// MalformedFrameTotal 被丢弃的畸形帧
var MalformedFrameTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bridge_malformed_frame_total",
		Help: "解析失败被丢弃的帧数",
	},
)

// SessionLifecycleTotal Session 生命周期事件
var SessionLifecycleTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bridge_session_lifecycle_total",
		Help: "Session 生命周期事件数",
	},
	[]string{"event"}, // created | restored | expired | invalid | restore_failed | cleared
)

// ActiveStreams 当前进行中的流
var ActiveStreams = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "bridge_active_streams",
		Help: "当前进行中的流",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
