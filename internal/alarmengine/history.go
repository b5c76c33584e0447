package alarmengine

import (
	"sync"
	"time"

	"github.com/fieldops/controlplane/internal/domain/alarmdomain"
)

// HistoryKey identifies one (rule, target) pair's bucketed evaluation
// history. It carries no ConsecutivePeriods node identity: when a rule
// nests more than one such node, the nodes evaluated for the same target
// share one history.
type HistoryKey struct {
	RuleID    string
	TargetKey string
}

type bucketEntry struct {
	index  int64
	truthy bool
}

// BucketHistory tracks, per (rule, target), the most recent truthy/falsy
// outcome for each period bucket a ConsecutivePeriods node has observed —
// enough to answer "was the child truthy in each of the last N consecutive
// buckets" without replaying the full metric history on every tick.
type BucketHistory struct {
	mu      sync.Mutex
	buckets map[HistoryKey][]bucketEntry
	cap     int
}

// NewBucketHistory builds a BucketHistory retaining at most capPerKey
// bucket entries per (rule, target) pair.
func NewBucketHistory(capPerKey int) *BucketHistory {
	if capPerKey <= 0 {
		capPerKey = 64
	}
	return &BucketHistory{buckets: make(map[HistoryKey][]bucketEntry), cap: capPerKey}
}

func bucketIndex(period alarmdomain.PeriodKind, evalIntervalSeconds int64, now time.Time) int64 {
	switch period {
	case alarmdomain.PeriodHour:
		return now.Unix() / 3600
	case alarmdomain.PeriodDay:
		return now.Unix() / 86400
	default: // PeriodEval
		step := evalIntervalSeconds
		if step <= 0 {
			step = 10
		}
		return now.Unix() / step
	}
}

// Record stores truthy for the bucket now falls into, overwriting any
// earlier observation for that same bucket (later evaluations within a
// still-open bucket refine its final outcome).
func (h *BucketHistory) Record(key HistoryKey, period alarmdomain.PeriodKind, now time.Time, truthy bool) {
	h.recordWithInterval(key, period, 10, now, truthy)
}

func (h *BucketHistory) recordWithInterval(key HistoryKey, period alarmdomain.PeriodKind, evalIntervalSeconds int64, now time.Time, truthy bool) {
	idx := bucketIndex(period, evalIntervalSeconds, now)
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := h.buckets[key]
	if n := len(entries); n > 0 && entries[n-1].index == idx {
		entries[n-1].truthy = truthy
	} else {
		entries = append(entries, bucketEntry{index: idx, truthy: truthy})
		if len(entries) > h.cap {
			entries = entries[len(entries)-h.cap:]
		}
	}
	h.buckets[key] = entries
}

// ConsecutiveTrue reports whether the last count recorded buckets, ending
// at now's own bucket, are all truthy and contiguous (no bucket gap).
func (h *BucketHistory) ConsecutiveTrue(key HistoryKey, period alarmdomain.PeriodKind, now time.Time, count int) bool {
	h.mu.Lock()
	entries := append([]bucketEntry(nil), h.buckets[key]...)
	h.mu.Unlock()

	if len(entries) < count {
		return false
	}
	tail := entries[len(entries)-count:]
	for i, e := range tail {
		if !e.truthy {
			return false
		}
		if i > 0 && e.index != tail[i-1].index+1 {
			return false
		}
	}
	return true
}
