package core

import (
	"ExchangeLedger/internal/event"
	"ExchangeLedger/internal/observability"
	"container/list"
	"context"

	"github.com/rs/zerolog"
)

// DedupKey names an applied request by the event it committed: a settlement
// batch id under TransactionsProcessed, or a caller-scoped request id under
// Deposit and Withdrawal.
type DedupKey struct {
	Type event.EventType
	Key  string
}

func (k DedupKey) String() string {
	return k.Type.String() + "/" + k.Key
}

// DBIdempotencyChecker looks up keys already recorded in the event log.
type DBIdempotencyChecker interface {
	IsProcessed(ctx context.Context, key DedupKey) (bool, error)
}

// IdempotencyChecker deduplicates requests in two tiers: an in-memory LRU
// of recent keys, then the event log.
// Not thread-safe: used under the engine's writer lock.
type IdempotencyChecker struct {
	lru     *keyLRU
	db      DBIdempotencyChecker
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewIdempotencyChecker(capacity int, db DBIdempotencyChecker, metrics *observability.Metrics, logger zerolog.Logger) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:     newKeyLRU(capacity),
		db:      db,
		metrics: metrics,
		logger:  logger,
	}
}

// IsDuplicate reports whether key was already applied.
// A failing tier-2 lookup is treated as "not a duplicate". A replayed batch
// is then still stopped by the nonces it carries; a direct transfer is
// not, so the lookup failure is logged at error level.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, key DedupKey) bool {
	if ic.lru.touch(key.String()) {
		ic.recordDuplicate("lru")
		return true
	}
	if ic.db == nil {
		return false
	}

	dup, err := ic.db.IsProcessed(ctx, key)
	if err != nil {
		ic.logger.Error().Err(err).Stringer("key", key).Msg("tier-2 dedup lookup failed")
		if ic.metrics != nil {
			ic.metrics.DedupTier2Errors.Inc()
		}
		return false
	}
	if dup {
		ic.recordDuplicate("postgres")
		ic.lru.add(key.String())
	}
	return dup
}

// MarkProcessed remembers key after it was committed.
func (ic *IdempotencyChecker) MarkProcessed(key DedupKey) {
	ic.lru.add(key.String())
}

// Warm preloads recently committed keys, oldest first.
func (ic *IdempotencyChecker) Warm(keys []DedupKey) {
	for _, k := range keys {
		ic.lru.add(k.String())
	}
}

// Size returns the number of cached keys.
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.order.Len()
}

// dedupKeyOf returns the key under which a committed event guards against
// reapplication. Only batches and keyed transfers have one.
func dedupKeyOf(evt event.Event, key string) (DedupKey, bool) {
	switch ev := evt.(type) {
	case *event.TransactionsProcessed:
		return DedupKey{Type: ev.EventType(), Key: key}, true
	case *event.Deposit:
		return DedupKey{Type: ev.EventType(), Key: key}, ev.RequestID != nil
	case *event.Withdrawal:
		return DedupKey{Type: ev.EventType(), Key: key}, ev.RequestID != nil
	}
	return DedupKey{}, false
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}

// keyLRU is a bounded set with least-recently-used eviction.
type keyLRU struct {
	capacity  int
	items     map[string]*list.Element
	order     *list.List // front = most recent
	evictions int64
}

func newKeyLRU(capacity int) *keyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &keyLRU{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (l *keyLRU) touch(key string) bool {
	elem, ok := l.items[key]
	if ok {
		l.order.MoveToFront(elem)
	}
	return ok
}

func (l *keyLRU) add(key string) {
	if l.touch(key) {
		return
	}
	l.items[key] = l.order.PushFront(key)
	for l.order.Len() > l.capacity {
		oldest := l.order.Back()
		l.order.Remove(oldest)
		delete(l.items, oldest.Value.(string))
		l.evictions++
	}
}
