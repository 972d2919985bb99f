package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentic_trust_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets, // 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10
		},
		[]string{"method", "path"},
	)
)

// 熔断器指标
var (
	// CircuitBreakerState 熔断器当前状态 (0=closed, 1=half_open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentic_trust_circuit_breaker_state",
			Help: "熔断器当前状态 (0=closed, 1=half_open, 2=open)",
		},
		[]string{"dependency"},
	)

	// CircuitBreakerTrips 熔断器跳闸总数
	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_circuit_breaker_trips_total",
			Help: "熔断器跳闸总数",
		},
		[]string{"dependency"},
	)
)

// 身份供应商调用指标
var (
	// ProviderCallsTotal 对外部身份供应商的 API 调用总数
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_provider_calls_total",
			Help: "外部身份供应商 API 调用总数",
		},
		[]string{"operation", "status"},
	)

	// ProviderCallDuration 供应商 API 调用耗时（秒）
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentic_trust_provider_call_duration_seconds",
			Help:    "外部身份供应商 API 调用耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
)

// 实体同步指标
var (
	// SyncConflictRetries 同步过程中因数据库冲突触发的重试次数
	SyncConflictRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_sync_conflict_retries_total",
			Help: "实体同步数据库冲突重试总数",
		},
		[]string{"entity"},
	)

	// SyncTotal 实体同步总数
	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_sync_total",
			Help: "实体同步操作总数",
		},
		[]string{"entity", "status"},
	)
)

// 审计事件指标
var (
	// AuditEventsIngested 审计事件入库总数
	AuditEventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_audit_events_ingested_total",
			Help: "审计事件入库总数",
		},
		[]string{"source"},
	)

	// AuditEventsSkipped 因去重或归一化失败而跳过的审计事件数
	AuditEventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_audit_events_skipped_total",
			Help: "跳过的远端审计事件总数",
		},
		[]string{"reason"},
	)
)

// 缓存指标
var (
	// CacheHitsTotal 缓存命中总数
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_cache_hits_total",
			Help: "缓存命中总数",
		},
		[]string{"prefix"},
	)

	// CacheMissesTotal 缓存未命中总数
	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_cache_misses_total",
			Help: "缓存未命中总数",
		},
		[]string{"prefix"},
	)

	// CacheErrorsTotal 缓存层内部错误总数（已降级，不影响调用方）
	CacheErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentic_trust_cache_errors_total",
			Help: "缓存层内部错误总数",
		},
		[]string{"operation"},
	)
)
