package observability

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func stageByName(t *testing.T, snap StageSnapshot, stage string) StageStats {
	t.Helper()
	for _, s := range snap.Stages {
		if s.Stage == stage {
			return s
		}
	}
	t.Fatalf("stage %q missing from snapshot %+v", stage, snap.Stages)
	return StageStats{}
}

func TestSessionLogPercentilesAndBudget(t *testing.T) {
	l := newSessionLog(32)
	for i := 1; i <= 20; i++ {
		l.record(fmt.Sprintf("s%d", i), StageEndpoint, time.Duration(i*20)*time.Millisecond)
	}

	got := stageByName(t, l.snapshot(), StageEndpoint)
	if got.Samples != 20 {
		t.Fatalf("samples = %d, want 20", got.Samples)
	}
	if got.P50MS != 200 || got.P95MS != 380 || got.MaxMS != 400 {
		t.Fatalf("p50/p95/max = %.2f/%.2f/%.2f, want 200/380/400", got.P50MS, got.P95MS, got.MaxMS)
	}
	if got.MeanMS != 210 {
		t.Fatalf("mean = %.2f, want 210", got.MeanMS)
	}
	if got.LastMS != 400 {
		t.Fatalf("last = %.2f, want 400", got.LastMS)
	}
	if got.BudgetMS != 300 || got.OverBudget != 5 {
		t.Fatalf("budget = %.2f over = %d, want 300 and 5", got.BudgetMS, got.OverBudget)
	}
}

func TestEveryStageHasBudget(t *testing.T) {
	for _, stage := range []string{StageEndpoint, StageChannelOpen, StageStartToListening, StageFirstAudio, StageTextRoundTrip} {
		if StageBudget(stage) <= 0 {
			t.Fatalf("stage %q has no budget", stage)
		}
	}
	if StageBudget("unknown") != 0 {
		t.Fatalf("unknown stage should have no budget")
	}
}

func TestSessionLogTracksOutcomes(t *testing.T) {
	l := newSessionLog(8)
	l.record("a", StageEndpoint, 50*time.Millisecond)
	l.record("a", StageStartToListening, 900*time.Millisecond)
	l.record("b", StageEndpoint, 60*time.Millisecond)
	l.fail("b", "transport")
	l.fail("c", "configuration")
	l.record("d", StageEndpoint, 40*time.Millisecond)
	l.record("", StageTextRoundTrip, time.Second)

	snap := l.snapshot()
	if snap.Sessions != 4 {
		t.Fatalf("sessions = %d, want 4", snap.Sessions)
	}
	want := map[string]int{OutcomeListening: 1, "transport": 1, "configuration": 1, OutcomePending: 1}
	for outcome, n := range want {
		if snap.Outcomes[outcome] != n {
			t.Fatalf("outcomes = %v, want %v", snap.Outcomes, want)
		}
	}
	if len(snap.Outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", snap.Outcomes, want)
	}
	if got := stageByName(t, snap, StageTextRoundTrip); got.Samples != 1 {
		t.Fatalf("text round trip samples = %d, want 1", got.Samples)
	}
}

func TestSessionLogEvictsOldestSession(t *testing.T) {
	l := newSessionLog(2)
	l.record("a", StageEndpoint, 900*time.Millisecond)
	l.record("b", StageEndpoint, 100*time.Millisecond)
	l.record("c", StageEndpoint, 200*time.Millisecond)
	l.record("b", StageChannelOpen, 300*time.Millisecond)

	snap := l.snapshot()
	if snap.Sessions != 2 || snap.Capacity != 2 {
		t.Fatalf("sessions/capacity = %d/%d, want 2/2", snap.Sessions, snap.Capacity)
	}
	got := stageByName(t, snap, StageEndpoint)
	if got.Samples != 2 || got.MaxMS != 200 {
		t.Fatalf("endpoint = %+v, want the two newest sessions", got)
	}
	if got.LastMS != 200 {
		t.Fatalf("last = %.2f, want 200 from the newest session", got.LastMS)
	}
}

func TestSessionLogRepeatedStageKeepsLatest(t *testing.T) {
	l := newSessionLog(4)
	l.record("a", StageFirstAudio, 5*time.Second)
	l.record("a", StageFirstAudio, time.Second)
	l.record("a", "", time.Second)
	l.record("a", StageEndpoint, -time.Second)

	snap := l.snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %+v, want only first audio", snap.Stages)
	}
	got := snap.Stages[0]
	if got.Samples != 1 || got.LastMS != 1000 || got.OverBudget != 0 {
		t.Fatalf("first audio = %+v, want one in-budget sample of 1000ms", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.SessionEvent("start")
	m.Transition("idle", "connecting")
	m.SetActive(true)
	m.InboundFrame("text")
	m.OutboundChunk("sent")
	m.Playback("done")
	m.SetupFailure("s1", "transport")
	m.TextFallback("ok")
	m.ObserveStage("s1", StageEndpoint, time.Millisecond)

	snap := m.StageSnapshot()
	if snap.Sessions != 0 || len(snap.Stages) != 0 || snap.Outcomes == nil {
		t.Fatalf("nil metrics snapshot = %+v", snap)
	}
}

func TestMetricsCountWithPrivateRegistry(t *testing.T) {
	m := NewMetricsWith("concierge_test", prometheus.NewRegistry())
	m.SetupFailure("s1", "permission")
	m.SetupFailure("s2", "permission")
	m.ObserveStage("s3", StageChannelOpen, 120*time.Millisecond)
	m.ObserveStage("s3", StageStartToListening, 400*time.Millisecond)

	if got := testutil.ToFloat64(m.SetupFailures.WithLabelValues("permission")); got != 2 {
		t.Fatalf("setup failures = %v, want 2", got)
	}
	snap := m.StageSnapshot()
	if snap.Outcomes["permission"] != 2 || snap.Outcomes[OutcomeListening] != 1 {
		t.Fatalf("outcomes = %v", snap.Outcomes)
	}
	if got := stageByName(t, snap, StageChannelOpen); got.LastMS != 120 {
		t.Fatalf("channel open last = %.2f, want 120", got.LastMS)
	}
}
