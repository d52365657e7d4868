package core

import (
	"container/list"

	"github.com/x5th/x-leverage/internal/observability"
)

// DBIdempotencyChecker looks a request up in the event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker remembers processed request ids. Recent ids live in a
// bounded in-memory set; older ones are found through the event log.
type IdempotencyChecker struct {
	recent  *recentRequests
	log     DBIdempotencyChecker
	metrics *observability.Metrics
}

func NewIdempotencyChecker(capacity int, log DBIdempotencyChecker, metrics *observability.Metrics) *IdempotencyChecker {
	return &IdempotencyChecker{recent: newRecentRequests(capacity), log: log, metrics: metrics}
}

// requestKey is the form stored in the set and in snapshots. It matches the
// event log's unique (event_type, idempotency_key) index.
func requestKey(eventType, requestID string) string {
	return eventType + ":" + requestID
}

// IsDuplicate reports whether the request was already processed. A failed
// log lookup counts as unseen so a database outage cannot stall the core;
// the log's unique index still refuses the second write.
func (ic *IdempotencyChecker) IsDuplicate(eventType, requestID string) bool {
	key := requestKey(eventType, requestID)
	if ic.recent.touch(key) {
		ic.countDuplicate(eventType, "memory")
		return true
	}
	if ic.log == nil {
		return false
	}

	seen, err := ic.log.IsDuplicate(eventType, requestID)
	switch {
	case err != nil:
		if ic.metrics != nil {
			ic.metrics.PersistErrors.WithLabelValues("dedup_lookup").Inc()
		}
		return false
	case seen:
		ic.countDuplicate(eventType, "postgres")
		ic.recent.add(key)
		return true
	}
	return false
}

// MarkProcessed records a request once its outcome is committed.
func (ic *IdempotencyChecker) MarkProcessed(eventType, requestID string) {
	ic.recent.add(requestKey(eventType, requestID))
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.recent.size()))
	}
}

// Keys returns the remembered request keys, oldest first.
func (ic *IdempotencyChecker) Keys() []string { return ic.recent.keys() }

// Warm re-adds keys saved by Keys, oldest first.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, k := range keys {
		ic.recent.add(k)
	}
}

func (ic *IdempotencyChecker) countDuplicate(eventType, tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
	}
}

// recentRequests is a set that forgets its least recently used key once
// full. The core's mutex guards it.
type recentRequests struct {
	capacity int
	order    *list.List // front is most recent; values are keys
	index    map[string]*list.Element
}

func newRecentRequests(capacity int) *recentRequests {
	if capacity <= 0 {
		capacity = 1
	}
	return &recentRequests{capacity: capacity, order: list.New(), index: make(map[string]*list.Element)}
}

// touch reports membership and refreshes the key's recency.
func (r *recentRequests) touch(key string) bool {
	e, ok := r.index[key]
	if ok {
		r.order.MoveToFront(e)
	}
	return ok
}

func (r *recentRequests) add(key string) {
	if r.touch(key) {
		return
	}
	r.index[key] = r.order.PushFront(key)
	for r.order.Len() > r.capacity {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.index, oldest.Value.(string))
	}
}

func (r *recentRequests) keys() []string {
	out := make([]string, 0, r.order.Len())
	for e := r.order.Back(); e != nil; e = e.Prev() {
		out = append(out, e.Value.(string))
	}
	return out
}

func (r *recentRequests) size() int { return r.order.Len() }
