package goGuard

import (
	"time"

	internalmetrics "github.com/MrEthical07/goGuard/internal/metrics"
)

// MetricID identifies one Engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	// MetricLoginLocked counts logins refused because of an active lockout.
	MetricLoginLocked
	// MetricAccountLocked counts lockouts applied.
	MetricAccountLocked
	MetricAccountUnlocked
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReplay
	MetricLogout
	MetricLogoutAll
	MetricTokenBlacklisted
	MetricSessionEvicted
	MetricChallengeFailure
	MetricOTPSent
	MetricOTPLoginSuccess
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricPasswordChange
	MetricPasswordReset
	MetricValidateFailure
	// MetricValidateLatency is the only id with a histogram.
	MetricValidateLatency
	metricIDCount
)

// Metrics are the Engine's in-process counters.
type Metrics struct {
	set *internalmetrics.Set
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics allocates counters according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		set: internalmetrics.New(int(metricIDCount), cfg.Enabled, cfg.EnableLatencyHistograms),
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.set.Enabled()
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil {
		return
	}
	m.set.Inc(int(id))
}

// Observe records a latency sample. Only MetricValidateLatency is tracked.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || id != MetricValidateLatency {
		return
	}
	m.set.Observe(int(id), d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil {
		return 0
	}
	return m.set.Value(int(id))
}

// Snapshot copies every counter. A disabled Metrics yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if !m.Enabled() {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.set.Value(int(id))
	}
	if m.set.LatencyEnabled() {
		s.Histograms[MetricValidateLatency] = m.set.Buckets(int(MetricValidateLatency))
	}
	return s
}
