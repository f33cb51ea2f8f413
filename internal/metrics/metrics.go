// Package metrics owns the server's private Prometheus registry: HTTP
// request metrics, helmet chain aborts, the active header policy and the
// policy watcher.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-helmet/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// http
	inflight     prometheus.Gauge
	reqTotal     *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	respBytes    *prometheus.HistogramVec
	errorsTotal  *prometheus.CounterVec
	panicTotal   prometheus.Counter
	rlDenied     prometheus.Counter
	rlCapacity   prometheus.Counter
	buildInfo    *prometheus.GaugeVec
	profilingOn  prometheus.Gauge
	helmetAborts *prometheus.CounterVec

	// policy
	policyInfo     *prometheus.GaugeVec
	policyFeature  *prometheus.GaugeVec
	policyLoadedTs prometheus.Gauge
	policyLoadDur  prometheus.Histogram

	// watcher
	watcherPolls     prometheus.Counter
	watcherSwaps     prometheus.Counter
	watcherErrors    *prometheus.CounterVec
	watcherLastOkTs  prometheus.Gauge
	watcherStaleness prometheus.Gauge
}

// New returns metrics on a fresh registry with the Go and process
// collectors. HTTP labels are limited to method, route pattern and status.
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx responses by method and route",
		}, []string{"method", "route"}),
		panicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total recovered handler panics",
		}),
		rlDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by the per-IP rate limiter",
		}),
		rlCapacity: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total requests rejected because the rate limiter tracked too many IPs",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "build_id", "vcs_dirty", "go_version"}),
		profilingOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or not (0)",
		}),
		helmetAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helmet_chain_aborts_total",
			Help: "Requests where a security header step failed, by feature",
		}, []string{"feature"}),
		policyInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "helmet_policy_info",
			Help: "Active header policy (labels carry identity, value is always 1)",
		}, []string{"sha256", "source"}),
		policyFeature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "helmet_policy_feature_enabled",
			Help: "Whether a feature is part of the active policy (1) or not (0)",
		}, []string{"feature"}),
		policyLoadedTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helmet_policy_loaded_timestamp_seconds",
			Help: "Unix time the active policy was installed",
		}),
		policyLoadDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "helmet_policy_load_duration_seconds",
			Help:    "Time to download, verify and compose a policy document",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		watcherPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helmet_policy_watcher_polls_total",
			Help: "Total policy watcher poll cycles",
		}),
		watcherSwaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "helmet_policy_watcher_swaps_total",
			Help: "Total policies swapped in by the watcher",
		}),
		watcherErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "helmet_policy_watcher_errors_total",
			Help: "Total policy watcher errors by type",
		}, []string{"type"}),
		watcherLastOkTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helmet_policy_watcher_last_success_timestamp_seconds",
			Help: "Unix time of the last successful SSM poll",
		}),
		watcherStaleness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "helmet_policy_watcher_stale",
			Help: "Whether the policy watcher has been failing past its staleness threshold (1) or not (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.panicTotal,
		m.rlDenied,
		m.rlCapacity,
		m.buildInfo,
		m.profilingOn,
		m.helmetAborts,
		m.policyInfo,
		m.policyFeature,
		m.policyLoadedTs,
		m.policyLoadDur,
		m.watcherPolls,
		m.watcherSwaps,
		m.watcherErrors,
		m.watcherLastOkTs,
		m.watcherStaleness,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler { return m.handler }

// SetBuildInfo is called once at startup.
func (m *ServerMetrics) SetBuildInfo(component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":        vi.AppName,
		"component":  component,
		"version":    vi.Version,
		"commit":     vi.Commit,
		"build_id":   vi.BuildId,
		"vcs_dirty":  dirty,
		"go_version": vi.GoVersion,
	}).Set(1)
}

func (m *ServerMetrics) IncHTTPPanic() { m.panicTotal.Inc() }

func (m *ServerMetrics) IncRateLimitDenied() { m.rlDenied.Inc() }

func (m *ServerMetrics) IncRateLimitCapacity() { m.rlCapacity.Inc() }

func (m *ServerMetrics) SetProfilingActive(active bool) { m.profilingOn.Set(boolGauge(active)) }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
