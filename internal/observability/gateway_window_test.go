package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(4)
	for _, ms := range []float64{100, 300, 500} {
		w.Observe("music", ms)
	}
	w.ObserveResult("music_ok")
	w.ObserveResult("music_ok")
	w.ObserveResult("music_error")

	snap := w.Snapshot()
	if len(snap.Operations) != 1 {
		t.Fatalf("len(Operations) = %d, want 1", len(snap.Operations))
	}
	op := snap.Operations[0]
	if op.Samples != 3 || op.LastMS != 500 || op.P50MS != 300 {
		t.Fatalf("unexpected stats: %+v", op)
	}
	if len(snap.Results) != 2 || snap.Results[1].Name != "music_ok" || snap.Results[1].Count != 2 {
		t.Fatalf("unexpected results: %+v", snap.Results)
	}
}

func TestLatencyWindowWrapsRing(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe("cover", 10)
	w.Observe("cover", 20)
	w.Observe("cover", 30)

	op := w.Snapshot().Operations[0]
	if op.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", op.Samples)
	}
	if op.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", op.AvgMS)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("ok")
	m.ObserveGatewayCall("music", "ok", time.Second)
	m.ObserveOperationFailure("music")
	m.SetBudget("music", time.Minute)
	if snap := m.SnapshotGateways(); len(snap.Operations) != 0 {
		t.Fatalf("nil metrics snapshot = %+v, want empty", snap)
	}
}
