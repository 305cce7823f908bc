package stream

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cointop10/cointop10-websocket/internal/metrics"
)

// SubscriptionKey maps one (exchange, symbol, timeframe) stream to its
// subscriber set.
type SubscriptionKey struct {
	Exchange  string
	Symbol    string
	Timeframe string
}

func (k SubscriptionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Exchange, k.Symbol, k.Timeframe)
}

// Pair returns the structured (exchange, symbol) tuple for this key.
// Interest lookups are keyed on exact tuples, never string prefixes, so
// symbols that share a textual prefix cannot alias.
func (k SubscriptionKey) Pair() PairKey {
	return PairKey{Exchange: k.Exchange, Symbol: k.Symbol}
}

// PairKey identifies one exchange+symbol pair across all timeframes.
type PairKey struct {
	Exchange string
	Symbol   string
}

// Interest is one (timeframe, subscriber) pair that must receive a candle.
type Interest struct {
	Timeframe  string
	Subscriber string
}

// SubscriptionRegistry tracks per-subscriber interest at per-timeframe
// granularity. A key with an empty subscriber set never exists in the map;
// it is deleted, which is what drives connection teardown.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[SubscriptionKey]map[string]struct{}
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs: make(map[SubscriptionKey]map[string]struct{}),
	}
}

// Subscribe adds subscriberID to the set for key, creating the set if
// absent. Returns the resulting subscriber count for that key.
func (r *SubscriptionRegistry) Subscribe(key SubscriptionKey, subscriberID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[key]
	if !ok {
		set = make(map[string]struct{})
		r.subs[key] = set
	}
	if _, exists := set[subscriberID]; !exists {
		set[subscriberID] = struct{}{}
		metrics.ActiveSubscriptions.Inc()
	}
	return len(set)
}

// Unsubscribe removes subscriberID from the set for key, deleting the key
// when the set becomes empty. Returns whether any OTHER key sharing the
// same (exchange, symbol) pair still has subscribers. Removing a pair that
// was never subscribed is a no-op.
func (r *SubscriptionRegistry) Unsubscribe(key SubscriptionKey, subscriberID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.subs[key]; ok {
		if _, exists := set[subscriberID]; exists {
			delete(set, subscriberID)
			metrics.ActiveSubscriptions.Dec()
		}
		if len(set) == 0 {
			delete(r.subs, key)
		}
	}

	pair := key.Pair()
	for other := range r.subs {
		if other.Pair() == pair {
			return true
		}
	}
	return false
}

// Interested returns a snapshot of every (timeframe, subscriber) pair that
// must receive a candle for the given exchange+symbol. The snapshot is
// taken under the lock: no pair is visited twice or dropped mid-iteration.
func (r *SubscriptionRegistry) Interested(exchange, symbol string) []Interest {
	pair := PairKey{Exchange: exchange, Symbol: symbol}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Interest
	for key, set := range r.subs {
		if key.Pair() != pair {
			continue
		}
		for subscriberID := range set {
			out = append(out, Interest{Timeframe: key.Timeframe, Subscriber: subscriberID})
		}
	}
	return out
}

// HasInterest reports whether any timeframe for the pair has subscribers.
func (r *SubscriptionRegistry) HasInterest(exchange, symbol string) bool {
	pair := PairKey{Exchange: exchange, Symbol: symbol}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for key := range r.subs {
		if key.Pair() == pair {
			return true
		}
	}
	return false
}

// CountByKey returns subscriber counts keyed by the string form of each
// subscription key, sorted map iteration left to the caller.
func (r *SubscriptionRegistry) CountByKey() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.subs))
	for key, set := range r.subs {
		out[key.String()] = len(set)
	}
	return out
}

// Keys returns the active subscription keys in sorted order.
func (r *SubscriptionRegistry) Keys() []SubscriptionKey {
	r.mu.RLock()
	keys := make([]SubscriptionKey, 0, len(r.subs))
	for key := range r.subs {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}
