package metrics

import "time"

// OnAbort counts a request whose helmet chain stopped at feature.
func (m *ServerMetrics) OnAbort(feature string) {
	if feature == "" {
		feature = "unknown"
	}
	m.helmetAborts.WithLabelValues(feature).Inc()
}

// SetPolicy records the active policy. all lists every known feature so
// disabled ones report 0 instead of disappearing.
func (m *ServerMetrics) SetPolicy(sha256, source string, enabled, all []string, loadedAt time.Time) {
	m.policyInfo.Reset()
	m.policyInfo.WithLabelValues(sha256, source).Set(1)

	on := make(map[string]bool, len(enabled))
	for _, f := range enabled {
		on[f] = true
	}
	for _, f := range all {
		m.policyFeature.WithLabelValues(f).Set(boolGauge(on[f]))
	}
	if !loadedAt.IsZero() {
		m.policyLoadedTs.Set(float64(loadedAt.Unix()))
	}
}

// The methods below satisfy policy.WatcherMetrics.

func (m *ServerMetrics) IncWatcherPolls() { m.watcherPolls.Inc() }

func (m *ServerMetrics) IncWatcherSwaps() { m.watcherSwaps.Inc() }

func (m *ServerMetrics) IncWatcherError(errType string) {
	m.watcherErrors.WithLabelValues(errType).Inc()
}

func (m *ServerMetrics) ObservePolicyLoadDuration(seconds float64) {
	m.policyLoadDur.Observe(seconds)
}

func (m *ServerMetrics) SetWatcherLastSuccess(unixSeconds float64) {
	m.watcherLastOkTs.Set(unixSeconds)
}

func (m *ServerMetrics) SetWatcherStale(stale bool) {
	m.watcherStaleness.Set(boolGauge(stale))
}
