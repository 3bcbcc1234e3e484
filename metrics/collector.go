package metrics

import (
	"fmt"
	"sync"
	"time"
)

const (
	// maxStateChanges bounds the retained circuit transition history.
	maxStateChanges = 100
	// maxTimingSamples bounds the retained processing-time samples.
	maxTimingSamples = 1000
)

// StateChange records a single circuit breaker transition.
type StateChange struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Collector accumulates per-channel counters and bounded histories for the
// delivery pipeline. A single mutex guards every field: the counters must
// stay mutually consistent for the success-rate computation, and the
// collector is queried from the administrative path at any time.
type Collector struct {
	mu sync.Mutex

	processed    map[string]int64
	failed       map[string]int64
	retried      map[string]int64
	deadLettered map[string]int64

	stateChanges []StateChange
	timingsMs    []int64

	startedAt time.Time
	lastReset time.Time
}

// NewCollector creates an empty collector stamped with the process start time.
func NewCollector() *Collector {
	now := time.Now().UTC()
	return &Collector{
		processed:    make(map[string]int64),
		failed:       make(map[string]int64),
		retried:      make(map[string]int64),
		deadLettered: make(map[string]int64),
		startedAt:    now,
		lastReset:    now,
	}
}

// RecordProcessed counts a successfully processed message on a channel.
func (c *Collector) RecordProcessed(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed[channel]++
}

// RecordFailed counts a failed message, both per channel and per
// channel-and-error-kind. The per-kind counter lives in the same map, so the
// failed total deliberately double-counts relative to processed; success-rate
// consumers account for that.
func (c *Collector) RecordFailed(channel, errorKind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[channel]++
	c.failed[fmt.Sprintf("%s:%s", channel, errorKind)]++
}

// RecordRetried counts a retry attempt on a channel. Attempt numbers are
// zero-based.
func (c *Collector) RecordRetried(channel string, attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retried[channel]++
	c.retried[fmt.Sprintf("%s:attempt-%d", channel, attempt)]++
}

// RecordDeadLettered counts a message handed to the dead letter store.
func (c *Collector) RecordDeadLettered(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadLettered[channel]++
}

// RecordCircuitStateChange appends a breaker transition, keeping only the
// most recent entries.
func (c *Collector) RecordCircuitStateChange(from, to, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateChanges = append(c.stateChanges, StateChange{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if len(c.stateChanges) > maxStateChanges {
		c.stateChanges = c.stateChanges[len(c.stateChanges)-maxStateChanges:]
	}
}

// RecordProcessingTime appends a processing-time sample, keeping only the
// most recent entries.
func (c *Collector) RecordProcessingTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timingsMs = append(c.timingsMs, d.Milliseconds())
	if len(c.timingsMs) > maxTimingSamples {
		c.timingsMs = c.timingsMs[len(c.timingsMs)-maxTimingSamples:]
	}
}

// Reset clears all counters and histories and stamps a new reset time. This
// is an explicit administrative action, not part of normal message flow.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.processed = make(map[string]int64)
	c.failed = make(map[string]int64)
	c.retried = make(map[string]int64)
	c.deadLettered = make(map[string]int64)
	c.stateChanges = nil
	c.timingsMs = nil
	c.lastReset = time.Now().UTC()
}

// TimingStats summarizes the retained processing-time samples.
type TimingStats struct {
	Count int64 `json:"count"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	AvgMs int64 `json:"avg_ms"`
}

// Snapshot is a consistent point-in-time copy of all collected metrics.
type Snapshot struct {
	Processed    map[string]int64 `json:"processed"`
	Failed       map[string]int64 `json:"failed"`
	Retried      map[string]int64 `json:"retried"`
	DeadLettered map[string]int64 `json:"dead_lettered"`

	ProcessedTotal    int64   `json:"processed_total"`
	FailedTotal       int64   `json:"failed_total"`
	RetriedTotal      int64   `json:"retried_total"`
	DeadLetteredTotal int64   `json:"dead_lettered_total"`
	SuccessRate       float64 `json:"success_rate"`

	CircuitStateChanges []StateChange `json:"circuit_state_changes"`
	ProcessingTime      TimingStats   `json:"processing_time"`

	StartedAt time.Time `json:"started_at"`
	LastReset time.Time `json:"last_reset"`
	TakenAt   time.Time `json:"taken_at"`
}

// Snapshot computes a deep copy of the current metrics. Reading is
// side-effect free: two snapshots without intervening writes are identical
// apart from TakenAt.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Processed:    copyCounters(c.processed),
		Failed:       copyCounters(c.failed),
		Retried:      copyCounters(c.retried),
		DeadLettered: copyCounters(c.deadLettered),
		StartedAt:    c.startedAt,
		LastReset:    c.lastReset,
		TakenAt:      time.Now().UTC(),
	}

	for _, v := range c.processed {
		snap.ProcessedTotal += v
	}
	for _, v := range c.failed {
		snap.FailedTotal += v
	}
	for _, v := range c.retried {
		snap.RetriedTotal += v
	}
	for _, v := range c.deadLettered {
		snap.DeadLetteredTotal += v
	}

	// No traffic reads as fully healthy, not as an outage.
	if snap.ProcessedTotal+snap.FailedTotal == 0 {
		snap.SuccessRate = 100.0
	} else {
		snap.SuccessRate = float64(snap.ProcessedTotal) /
			float64(snap.ProcessedTotal+snap.FailedTotal) * 100.0
	}

	snap.CircuitStateChanges = make([]StateChange, len(c.stateChanges))
	copy(snap.CircuitStateChanges, c.stateChanges)

	snap.ProcessingTime = summarizeTimings(c.timingsMs)

	return snap
}

func copyCounters(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func summarizeTimings(samples []int64) TimingStats {
	if len(samples) == 0 {
		return TimingStats{}
	}

	stats := TimingStats{
		Count: int64(len(samples)),
		MinMs: samples[0],
		MaxMs: samples[0],
	}

	var total int64
	for _, ms := range samples {
		total += ms
		if ms < stats.MinMs {
			stats.MinMs = ms
		}
		if ms > stats.MaxMs {
			stats.MaxMs = ms
		}
	}
	stats.AvgMs = total / stats.Count

	return stats
}
