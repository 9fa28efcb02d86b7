package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace 指标命名空间
	Namespace = "paragraph_migrate"

	subsystemSplit     = "split"
	subsystemMigration = "migration"
	subsystemFetch     = "fetch"
	subsystemHTTP      = "http"
)

// Metrics 迁移流程的指标收集接口
// 所有方法对nil接收者安全，未启用指标时可以直接传nil
type Metrics interface {
	// Registry 返回私有注册表
	Registry() *prometheus.Registry
	// Handler 返回暴露指标的HTTP处理器
	Handler() http.Handler

	// ObserveBlocks 记录一次分割产生的文本块和图片块数量
	ObserveBlocks(text, image int)
	// IncParagraphs 记录创建的段落
	IncParagraphs(paragraphType string)
	// ObserveMigration 记录一次迁移的结果和耗时
	ObserveMigration(status string, seconds float64)
	// IncFetchFailures 记录图片下载失败
	IncFetchFailures(reason string)
	// ObserveHTTPRequest 记录HTTP请求耗时
	ObserveHTTPRequest(route, method, statusCode string, seconds float64)
}

type metrics struct {
	registry *prometheus.Registry

	blocksTotal       *prometheus.CounterVec
	paragraphsTotal   *prometheus.CounterVec
	migrationsTotal   *prometheus.CounterVec
	migrationDuration prometheus.Histogram
	fetchFailures     *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New 创建指标收集器
func New() Metrics {
	m := &metrics{registry: prometheus.NewRegistry()}

	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.blocksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystemSplit,
		Name:      "blocks_total",
		Help:      "The total number of content blocks produced by the splitter.",
	}, []string{"kind"})
	m.registry.MustRegister(m.blocksTotal)

	m.paragraphsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystemMigration,
		Name:      "paragraphs_created_total",
		Help:      "The total number of paragraph entities created.",
	}, []string{"type"})
	m.registry.MustRegister(m.paragraphsTotal)

	m.migrationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystemMigration,
		Name:      "records_total",
		Help:      "The total number of migrated records by final status.",
	}, []string{"status"})
	m.registry.MustRegister(m.migrationsTotal)

	m.migrationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: subsystemMigration,
		Name:      "duration_seconds",
		Help:      "Time to migrate a single record.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	m.registry.MustRegister(m.migrationDuration)

	m.fetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystemFetch,
		Name:      "failures_total",
		Help:      "The total number of failed image downloads.",
	}, []string{"reason"})
	m.registry.MustRegister(m.fetchFailures)

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Subsystem: subsystemHTTP,
		Name:      "request_duration_seconds",
		Help:      "Time to execute the api handler.",
	}, []string{"route", "method", "status_code"})
	m.registry.MustRegister(m.httpDuration)

	return m
}

// Nop 返回不记录任何指标的实现
func Nop() Metrics {
	return (*metrics)(nil)
}

func (m *metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) ObserveBlocks(text, image int) {
	if m == nil {
		return
	}
	if text > 0 {
		m.blocksTotal.WithLabelValues("text").Add(float64(text))
	}
	if image > 0 {
		m.blocksTotal.WithLabelValues("image").Add(float64(image))
	}
}

func (m *metrics) IncParagraphs(paragraphType string) {
	if m != nil {
		m.paragraphsTotal.WithLabelValues(paragraphType).Inc()
	}
}

func (m *metrics) ObserveMigration(status string, seconds float64) {
	if m == nil {
		return
	}
	m.migrationsTotal.WithLabelValues(status).Inc()
	m.migrationDuration.Observe(seconds)
}

func (m *metrics) IncFetchFailures(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.fetchFailures.WithLabelValues(reason).Inc()
}

func (m *metrics) ObserveHTTPRequest(route, method, statusCode string, seconds float64) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpDuration.With(prometheus.Labels{"route": route, "method": method, "status_code": statusCode}).Observe(seconds)
}
