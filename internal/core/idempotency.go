package core

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"LyraeLedger/internal/observability"
)

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(intentType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker implements two-tier deduplication: an in-memory LRU of
// recently applied keys in front of the durable intent log.
// Only accessed from the engine's writer.
type IdempotencyChecker struct {
	lru       *lru.Cache
	dbChecker DBIdempotencyChecker
	metrics   *observability.Metrics
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) (*IdempotencyChecker, error) {
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("idempotency lru: %w", err)
	}
	return &IdempotencyChecker{lru: cache, dbChecker: dbChecker, metrics: metrics}, nil
}

func compositeKey(intentType, key string) string {
	return intentType + ":" + key
}

// IsDuplicate checks if the intent has been applied (two-tier lookup). A
// failed database lookup counts as not applied.
func (ic *IdempotencyChecker) IsDuplicate(intentType string, idempotencyKey string) bool {
	k := compositeKey(intentType, idempotencyKey)
	if ic.lru.Contains(k) {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(intentType, "lru").Inc()
		return true
	}
	if ic.dbChecker == nil {
		return false
	}
	isDup, err := ic.dbChecker.IsDuplicate(intentType, idempotencyKey)
	if err != nil {
		ic.metrics.DedupTier2Errors.Inc()
		return false
	}
	if isDup {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(intentType, "postgres").Inc()
		ic.lru.Add(k, struct{}{})
		ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
		return true
	}
	return false
}

// MarkProcessed adds key to LRU after the intent was applied or rejected.
func (ic *IdempotencyChecker) MarkProcessed(intentType string, idempotencyKey string) {
	ic.lru.Add(compositeKey(intentType, idempotencyKey), struct{}{})
	ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
}

// Warm loads composite keys, oldest first, into the LRU.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.lru.Add(k, struct{}{})
	}
	ic.metrics.DedupLRUSize.Set(float64(ic.lru.Len()))
}

// RecentKeys returns the cached composite keys, oldest first.
func (ic *IdempotencyChecker) RecentKeys() []string {
	keys := ic.lru.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.(string))
	}
	return out
}

// Size returns current number of entries
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Len()
}
