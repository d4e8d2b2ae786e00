package metrics

import (
	"testing"
	"time"
)

func TestHistogramObserve(t *testing.T) {
	h := NewHistogram("POST /v1/tools/invoke")
	h.Observe(10 * time.Millisecond)
	h.Observe(50 * time.Millisecond)
	h.Observe(200 * time.Millisecond)
	h.Observe(500 * time.Millisecond)
	h.Observe(1 * time.Second)

	snap := h.Snapshot()
	if snap.Count != 5 {
		t.Fatalf("count = %d, want 5", snap.Count)
	}
	if snap.Sum <= 0 {
		t.Fatal("sum should be positive")
	}
	if snap.Name != "POST /v1/tools/invoke" {
		t.Fatalf("unexpected name %q", snap.Name)
	}
}

func TestHistogramPercentiles(t *testing.T) {
	h := NewHistogram("p_test")
	for i := 0; i < 100; i++ {
		h.Observe(10 * time.Millisecond)
	}
	if p := h.Percentile(0.50); p > 0.025 {
		t.Fatalf("p50 = %f, want <= 0.025", p)
	}
	if p := h.Percentile(0.95); p > 0.025 {
		t.Fatalf("p95 = %f, want <= 0.025", p)
	}
	if p := h.Percentile(0.99); p > 0.025 {
		t.Fatalf("p99 = %f, want <= 0.025", p)
	}
}

func TestHistogramEmpty(t *testing.T) {
	h := NewHistogram("empty")
	if p := h.Percentile(0.50); p != 0 {
		t.Fatalf("empty p50 = %f, want 0", p)
	}
	if snap := h.Snapshot(); snap.Count != 0 {
		t.Fatalf("count = %d, want 0", snap.Count)
	}
}

func TestHistogramRegistry(t *testing.T) {
	reg := NewHistogramRegistry()
	reg.ObserveDuration("POST /v1/policy/check", 100*time.Millisecond)
	reg.ObserveDuration("POST /v1/policy/check", 200*time.Millisecond)
	reg.ObserveDuration("POST /v1/approvals", 50*time.Millisecond)

	snaps := reg.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2", len(snaps))
	}
	if snaps[0].Name != "POST /v1/approvals" || snaps[1].Name != "POST /v1/policy/check" {
		t.Fatalf("snapshots not in name order: %q, %q", snaps[0].Name, snaps[1].Name)
	}

	h1 := reg.Get("POST /v1/policy/check")
	h2 := reg.Get("POST /v1/policy/check")
	if h1 != h2 {
		t.Fatal("Get should return the same histogram instance")
	}
}

func TestHistogramSnapshotPercentiles(t *testing.T) {
	h := NewHistogram("snap_test")
	for i := 0; i < 90; i++ {
		h.Observe(5 * time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		h.Observe(2 * time.Second)
	}

	snap := h.Snapshot()
	if snap.Count != 100 {
		t.Fatalf("count = %d, want 100", snap.Count)
	}
	if snap.P50 > 0.01 {
		t.Fatalf("p50 = %f, want <= 0.01", snap.P50)
	}
	if snap.P99 < 0.1 {
		t.Fatalf("p99 = %f, want >= 0.1", snap.P99)
	}
}

func TestRegistryObserveLatency(t *testing.T) {
	reg := NewRegistry()
	reg.ObserveLatency("GET /healthz", 10*time.Millisecond)
	reg.ObserveLatency("GET /healthz", 20*time.Millisecond)

	snap := reg.Snapshot()
	if len(snap.Histograms) != 1 {
		t.Fatalf("expected 1 histogram, got %d", len(snap.Histograms))
	}
	if snap.Histograms[0].Count != 2 {
		t.Fatalf("histogram count = %d, want 2", snap.Histograms[0].Count)
	}
}
