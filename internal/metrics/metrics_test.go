package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hitoshi/campus/internal/guard"
)

// findMetric は指定した名前とラベルに一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if want, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != want {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestObserveBootstrap_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveBootstrap("created")
	c.ObserveBootstrap("conflict")
	c.ObserveBootstrap("conflict")

	if v := findMetric(t, reg, "campus_superadmin_bootstrap_total", map[string]string{"outcome": "conflict"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("conflict = %v, want 2", v)
	}
	if v := findMetric(t, reg, "campus_superadmin_bootstrap_total", map[string]string{"outcome": "created"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("created = %v, want 1", v)
	}
}

func TestObserveStatusCheck_CountsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveStatusCheck("ok")

	if v := findMetric(t, reg, "campus_superadmin_status_checks_total", map[string]string{"outcome": "ok"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("ok = %v, want 1", v)
	}
}

func TestObserveProfileLookup_RecordsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveProfileLookup("found", 50*time.Millisecond)
	c.ObserveProfileLookup("found", 150*time.Millisecond)

	h := findMetric(t, reg, "campus_profile_lookup_seconds", map[string]string{"outcome": "found"}).GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("sample count = %d, want 2", h.GetSampleCount())
	}
	if sum := h.GetSampleSum(); sum < 0.19 || sum > 0.21 {
		t.Errorf("sample sum = %v, want ~0.2", sum)
	}
}

func TestObserveGuardDecision_LabelsRouteAndState(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveGuardDecision("/admin", guard.StateUnauthorized)

	labels := map[string]string{"route": "/admin", "state": "unauthorized"}
	if v := findMetric(t, reg, "campus_guard_decisions_total", labels).GetCounter().GetValue(); v != 1 {
		t.Errorf("guard decisions = %v, want 1", v)
	}
}

// TestRecordHTTPStatus_IncrementsByStatusCode はステータスコード別にカウントされることを検証する。
func TestRecordHTTPStatus_IncrementsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(403)

	if v := findMetric(t, reg, "campus_http_status_total", map[string]string{"status_code": "200"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("200 = %v, want 2", v)
	}
	if v := findMetric(t, reg, "campus_http_status_total", map[string]string{"status_code": "403"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("403 = %v, want 1", v)
	}
}

func TestRecordTokensPurged_Adds(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokensPurged(3)
	c.RecordTokensPurged(0)

	if v := findMetric(t, reg, "campus_refresh_tokens_purged_total", nil).GetCounter().GetValue(); v != 3 {
		t.Errorf("tokens purged = %v, want 3", v)
	}
}

// TestNewCollector_DuplicateRegistrationPanics は同じレジストリへの二重登録でpanicすることを検証する。
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewCollector(reg)
}
