package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Session stages timed from the guest's start request.
const (
	StageEndpoint         = "start_to_endpoint"
	StageChannelOpen      = "endpoint_to_channel_open"
	StageStartToListening = "start_to_listening"
	StageFirstAudio       = "listening_to_first_audio"
	StageTextRoundTrip    = "text_round_trip"
)

// OutcomePending and OutcomeListening are the setup outcomes that are not
// failures; failures use the failure kind.
const (
	OutcomePending   = "pending"
	OutcomeListening = "listening"
)

// stageBudgets are the p95 latencies a guest should not notice.
var stageBudgets = map[string]time.Duration{
	StageEndpoint:         300 * time.Millisecond,
	StageChannelOpen:      1200 * time.Millisecond,
	StageStartToListening: 2 * time.Second,
	StageFirstAudio:       3 * time.Second,
	StageTextRoundTrip:    4 * time.Second,
}

// StageBudget returns the p95 budget for stage, or zero when it has none.
func StageBudget(stage string) time.Duration {
	return stageBudgets[stage]
}

type StageStats struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	LastMS     float64 `json:"last_ms"`
	MeanMS     float64 `json:"mean_ms"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms"`
	OverBudget int     `json:"over_budget"`
}

// StageSnapshot summarizes the most recent sessions.
type StageSnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Sessions    int            `json:"sessions"`
	Capacity    int            `json:"capacity"`
	Outcomes    map[string]int `json:"outcomes"`
	Stages      []StageStats   `json:"stages"`
}

type sessionTiming struct {
	id      string
	stages  map[string]time.Duration
	outcome string
}

// sessionLog keeps stage timings for the last capacity sessions. Text
// requests made before any voice session share the entry keyed by "",
// which has no outcome.
type sessionLog struct {
	mu       sync.Mutex
	capacity int
	order    []*sessionTiming
	byID     map[string]*sessionTiming
}

func newSessionLog(capacity int) *sessionLog {
	if capacity <= 0 {
		capacity = 128
	}
	return &sessionLog{capacity: capacity, byID: make(map[string]*sessionTiming)}
}

// sessionLocked returns the entry for id, evicting the oldest session when
// the log is full.
func (l *sessionLog) sessionLocked(id string) *sessionTiming {
	if s, ok := l.byID[id]; ok {
		return s
	}
	if len(l.order) >= l.capacity {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.byID, oldest.id)
	}
	s := &sessionTiming{id: id, stages: make(map[string]time.Duration), outcome: OutcomePending}
	l.order = append(l.order, s)
	l.byID[id] = s
	return s
}

// record stores the stage time of one session; a repeated stage keeps the
// latest value.
func (l *sessionLog) record(id, stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.sessionLocked(id)
	s.stages[stage] = d
	if stage == StageStartToListening {
		s.outcome = OutcomeListening
	}
}

func (l *sessionLog) fail(id, kind string) {
	if kind == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionLocked(id).outcome = kind
}

func (l *sessionLog) snapshot() StageSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		Capacity:    l.capacity,
		Outcomes:    make(map[string]int),
	}
	samples := make(map[string][]time.Duration)
	last := make(map[string]time.Duration)
	for _, s := range l.order {
		if s.id != "" {
			snap.Sessions++
			snap.Outcomes[s.outcome]++
		}
		for stage, d := range s.stages {
			samples[stage] = append(samples[stage], d)
			last[stage] = d
		}
	}

	stages := make([]string, 0, len(samples))
	for stage := range samples {
		stages = append(stages, stage)
	}
	slices.Sort(stages)
	for _, stage := range stages {
		snap.Stages = append(snap.Stages, summarize(stage, samples[stage], last[stage]))
	}
	return snap
}

func summarize(stage string, values []time.Duration, last time.Duration) StageStats {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	budget := stageBudgets[stage]
	over := 0
	if budget > 0 {
		for _, d := range sorted {
			if d > budget {
				over++
			}
		}
	}
	return StageStats{
		Stage:      stage,
		Samples:    len(sorted),
		LastMS:     millis(last),
		MeanMS:     millis(total / time.Duration(len(sorted))),
		P50MS:      millis(nearestRank(sorted, 0.50)),
		P95MS:      millis(nearestRank(sorted, 0.95)),
		MaxMS:      millis(sorted[len(sorted)-1]),
		BudgetMS:   millis(budget),
		OverBudget: over,
	}
}

// nearestRank picks the smallest sample with at least q of the samples at
// or below it. sorted must be non-empty.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
