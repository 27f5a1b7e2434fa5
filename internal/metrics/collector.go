package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 总线指标
	messagesPublished *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	publishDuration   *prometheus.HistogramVec
	protocolErrors    prometheus.Counter
	ackTimeouts       prometheus.Counter

	// 熔断器指标
	breakerState prometheus.Gauge
	breakerTrips prometheus.Counter

	// 注册表指标
	registeredAgents prometheus.Gauge
	sweptAgents      prometheus.Counter

	// 记忆存储指标
	memoryRecords  prometheus.Gauge
	evictedRecords prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 创建指标收集器并注册到指定 Registry（测试用）
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 总线指标
	c.messagesPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_published_total",
			Help:      "Total number of messages published to the bus",
		},
		[]string{"message_type"},
	)

	c.messagesReceived = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_received_total",
			Help:      "Total number of messages received from the bus",
		},
		[]string{"message_type"},
	)

	c.publishDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Outbound publish duration in seconds, resilience layer included",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"message_type"},
	)

	c.protocolErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_protocol_errors_total",
			Help:      "Total number of malformed or unsupported inbound messages",
		},
	)

	c.ackTimeouts = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_ack_timeouts_total",
			Help:      "Total number of acknowledgement waits that timed out",
		},
	)

	// 熔断器指标
	c.breakerState = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
	)

	c.breakerTrips = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Total number of closed-to-open breaker transitions",
		},
	)

	// 注册表指标
	c.registeredAgents = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_agents",
			Help:      "Number of currently registered agents",
		},
	)

	c.sweptAgents = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_swept_agents_total",
			Help:      "Total number of agents removed by the staleness sweep",
		},
	)

	// 记忆存储指标
	c.memoryRecords = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_records",
			Help:      "Number of records held by the memory store",
		},
	)

	c.evictedRecords = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_evicted_records_total",
			Help:      "Total number of records removed by eviction",
		},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 记录方法
// =============================================================================

// RecordPublish 记录一次出站发布
func (c *Collector) RecordPublish(messageType string, duration time.Duration) {
	c.messagesPublished.WithLabelValues(messageType).Inc()
	c.publishDuration.WithLabelValues(messageType).Observe(duration.Seconds())
}

// RecordReceive 记录一次入站消息
func (c *Collector) RecordReceive(messageType string) {
	c.messagesReceived.WithLabelValues(messageType).Inc()
}

// RecordProtocolError 记录一次协议错误
func (c *Collector) RecordProtocolError() {
	c.protocolErrors.Inc()
}

// RecordAckTimeout 记录一次确认等待超时
func (c *Collector) RecordAckTimeout() {
	c.ackTimeouts.Inc()
}

// SetBreakerState 更新熔断器状态
func (c *Collector) SetBreakerState(state int) {
	c.breakerState.Set(float64(state))
}

// RecordBreakerTrip 记录一次熔断
func (c *Collector) RecordBreakerTrip() {
	c.breakerTrips.Inc()
}

// SetRegisteredAgents 更新注册表规模
func (c *Collector) SetRegisteredAgents(n int) {
	c.registeredAgents.Set(float64(n))
}

// RecordSweptAgents 记录清理掉的代理数
func (c *Collector) RecordSweptAgents(n int) {
	c.sweptAgents.Add(float64(n))
}

// SetMemoryRecords 更新记忆存储规模
func (c *Collector) SetMemoryRecords(n int) {
	c.memoryRecords.Set(float64(n))
}

// RecordEvictedRecords 记录被淘汰的记录数
func (c *Collector) RecordEvictedRecords(n int) {
	c.evictedRecords.Add(float64(n))
}
