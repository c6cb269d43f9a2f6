package authcore

import "sync/atomic"

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterDuplicate
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginRateLimited
	MetricOAuthLoginSuccess
	MetricOTPRequestSuccess
	MetricOTPRequestRefused
	MetricOTPVerifySuccess
	MetricOTPVerifyFailure
	MetricOTPVerifyExpired
	MetricOTPSuspicionBlock
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshRotateMiss
	MetricSessionCreated
	MetricSessionEvicted
	MetricSessionInvalidated
	MetricFingerprintMismatch
	MetricGuardReject
	MetricLogout
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the engine's lock-free counters. The write path is
// allocation-free; snapshots copy every counter at once.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a counter set; a disabled set ignores all writes.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter. Safe on nil and disabled receivers.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters. A disabled set snapshots empty.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
