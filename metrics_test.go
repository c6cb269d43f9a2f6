package authcore

import (
	"sync"
	"testing"
)

func TestMetricsCountersAndSnapshot(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricSessionEvicted)

	if got := m.Value(MetricLoginSuccess); got != 2 {
		t.Fatalf("login success %d, want 2", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 2 || snap.Counters[MetricSessionEvicted] != 1 {
		t.Fatalf("snapshot %+v", snap.Counters)
	}
	if snap.Counters[MetricLogout] != 0 {
		t.Fatalf("untouched counter %d, want 0", snap.Counters[MetricLogout])
	}
}

func TestMetricsDisabledIgnoresWrites(t *testing.T) {
	m := NewMetrics(MetricsConfig{})

	m.Inc(MetricLoginSuccess)
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled counter %d, want 0", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot %+v", snap)
	}

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess) // must not panic
}

func TestMetricsConcurrentWrites(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricGuardReject)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricGuardReject); got != 8000 {
		t.Fatalf("counter %d, want 8000", got)
	}
}
