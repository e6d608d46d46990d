package crossbar

import (
	"sync"
	"sync/atomic"
	"time"
)

// StatsSnapshot is the point-in-time view returned by StatsTracker.GetStats.
// Total counters never reset across the tracker's lifetime; Interval
// counters reflect activity since the previous reset (or since tracker
// creation if GetStats has never been called with reset=true).
type StatsSnapshot struct {
	TotalEnqueuedMessages uint64
	TotalSkipped          uint64
	TotalDequeuedMessages uint64
	TotalProcessedMessages uint64
	NumOfTimeouts         uint64

	IntervalEnqueuedMessages  uint64
	IntervalSkipped           uint64
	IntervalDequeuedMessages  uint64
	IntervalProcessedMessages uint64
	IntervalTimeouts          uint64

	// LatencyEwma is the EWMA, in nanoseconds, of time from InceptionTicks
	// to dequeue.
	LatencyEwma float64
	// ServiceEwma is the EWMA, in nanoseconds, of handler execution time.
	ServiceEwma float64
	// Percentile is the current streaming percentile estimate, in
	// nanoseconds of latency, valid only when Options.Percentile != 0.
	Percentile float64
}

// StatsTracker maintains EWMA latency/service-time estimates and, optionally,
// a streaming moving-percentile estimator for a single subscription, plus
// the hot counters referenced by §8's monotonicity property. Hot counters
// are atomic; the EWMA/percentile state updates under a short mutex, per
// §5's "shared-resource policy" — one critical section per recorded event.
type StatsTracker struct {
	opts  StatsOptions
	alpha float64

	totalEnqueued  uint64
	totalSkipped   uint64
	totalDequeued  uint64
	totalProcessed uint64
	totalTimeouts  uint64

	mu             sync.Mutex
	baseEnqueued   uint64
	baseSkipped    uint64
	baseDequeued   uint64
	baseProcessed  uint64
	baseTimeouts   uint64
	latencyEwma    float64
	latencyInit    bool
	serviceEwma    float64
	serviceInit    bool
	percentile     float64
	percentileInit bool
	step           float64
}

// NewStatsTracker constructs a tracker honouring the supplied options.
func NewStatsTracker(opts StatsOptions) *StatsTracker {
	if opts.Delta <= 0 {
		opts.Delta = 1.0
	}
	return &StatsTracker{
		opts:  opts,
		alpha: opts.resolvedAlpha(),
		step:  opts.Delta,
	}
}

// RecordEnqueue counts an enqueue attempt. Per the Open Question (b)
// resolution in SPEC_FULL.md, every attempt is counted here regardless of
// whether it is subsequently skipped; skipped is tracked separately so
// callers can recover the number that actually entered the queue.
func (s *StatsTracker) RecordEnqueue(skipped bool) {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.totalEnqueued, 1)
	if skipped {
		atomic.AddUint64(&s.totalSkipped, 1)
	}
}

// RecordDequeue counts an item leaving the queue and, when latency >= 0,
// folds it into the latency EWMA and percentile estimators.
func (s *StatsTracker) RecordDequeue(latency time.Duration) {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.totalDequeued, 1)
	if latency < 0 {
		return
	}
	sample := float64(latency)
	s.mu.Lock()
	s.latencyEwma = ewma(s.latencyEwma, sample, s.alpha, &s.latencyInit)
	if s.opts.Percentile > 0.01 && s.opts.Percentile < 0.99 {
		s.percentile, s.step = movingPercentile(s.percentile, s.step, sample, s.opts.Percentile, s.opts.Delta, &s.percentileInit)
	}
	s.mu.Unlock()
}

// RecordService folds a handler execution time into the service-time EWMA.
func (s *StatsTracker) RecordService(serviceTime time.Duration) {
	if s == nil {
		return
	}
	sample := float64(serviceTime)
	s.mu.Lock()
	s.serviceEwma = ewma(s.serviceEwma, sample, s.alpha, &s.serviceInit)
	s.mu.Unlock()
}

// RecordProcessed counts an item the loop has finished with: either its
// handler returned, or its HandlerTimeout elapsed first.
func (s *StatsTracker) RecordProcessed() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.totalProcessed, 1)
}

// RecordTimeout counts a handler timeout.
func (s *StatsTracker) RecordTimeout() {
	if s == nil {
		return
	}
	atomic.AddUint64(&s.totalTimeouts, 1)
}

// GetStats returns the current snapshot. When reset is true, the interval
// baseline is advanced to the current totals and the EWMA/percentile state
// is reinitialised for the next window; total counters are unaffected.
func (s *StatsTracker) GetStats(reset bool) StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	totalEnqueued := atomic.LoadUint64(&s.totalEnqueued)
	totalSkipped := atomic.LoadUint64(&s.totalSkipped)
	totalDequeued := atomic.LoadUint64(&s.totalDequeued)
	totalProcessed := atomic.LoadUint64(&s.totalProcessed)
	totalTimeouts := atomic.LoadUint64(&s.totalTimeouts)

	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := StatsSnapshot{
		TotalEnqueuedMessages:     totalEnqueued,
		TotalSkipped:              totalSkipped,
		TotalDequeuedMessages:     totalDequeued,
		TotalProcessedMessages:    totalProcessed,
		NumOfTimeouts:             totalTimeouts,
		IntervalEnqueuedMessages:  totalEnqueued - s.baseEnqueued,
		IntervalSkipped:           totalSkipped - s.baseSkipped,
		IntervalDequeuedMessages:  totalDequeued - s.baseDequeued,
		IntervalProcessedMessages: totalProcessed - s.baseProcessed,
		IntervalTimeouts:          totalTimeouts - s.baseTimeouts,
		LatencyEwma:               s.latencyEwma,
		ServiceEwma:               s.serviceEwma,
		Percentile:                s.percentile,
	}
	if reset {
		s.baseEnqueued = totalEnqueued
		s.baseSkipped = totalSkipped
		s.baseDequeued = totalDequeued
		s.baseProcessed = totalProcessed
		s.baseTimeouts = totalTimeouts
		s.latencyEwma = 0
		s.latencyInit = false
		s.serviceEwma = 0
		s.serviceInit = false
		s.percentile = 0
		s.percentileInit = false
		s.step = s.opts.Delta
	}
	return snapshot
}

// ewma folds a new sample into an exponentially weighted moving average,
// seeding the average with the first sample rather than zero.
func ewma(current, sample, alpha float64, init *bool) float64 {
	if !*init {
		*init = true
		return sample
	}
	return alpha*sample + (1-alpha)*current
}

// movingPercentile implements a step-adjusted streaming percentile
// estimator: the running estimate moves up by step*target after a sample
// above it and down by step*(1-target) after a sample below it. The step
// then shrinks by delta*(1-target) or grows by delta*target respectively,
// never below 1% of delta; how far the sample lies from the estimate does
// not affect either adjustment. This is an approximation suitable for
// reporting, not an exact order statistic.
func movingPercentile(estimate, step, sample, target, delta float64, init *bool) (float64, float64) {
	if !*init {
		*init = true
		return sample, delta
	}
	if sample > estimate {
		estimate += step * target
		step += delta * (target - 1)
	} else if sample < estimate {
		estimate -= step * (1 - target)
		step += delta * target
	}
	if step < delta*0.01 {
		step = delta * 0.01
	}
	return estimate, step
}
