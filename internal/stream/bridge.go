package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

// ErrInvalidArgument is returned for empty subscribe/unsubscribe fields,
// unsupported exchanges, and unknown timeframes. No state is mutated when
// it is returned.
var ErrInvalidArgument = errors.New("invalid argument")

// ConnectionFactory builds one supervised upstream connection for an
// exchange+symbol stream at the base interval. handler receives every
// finalized candle; hasInterest is re-evaluated by the connection's
// reconnect logic; onStop is invoked when the connection retires itself.
type ConnectionFactory func(exchange, symbol, interval string, handler func(models.Candle), hasInterest func() bool, onStop func()) (Conn, error)

// Publisher broadcasts finalized base candles to out-of-process consumers.
type Publisher interface {
	PublishCandle(ctx context.Context, candle models.Candle) error
}

// LatestCache stores the most recent candle per stream.
type LatestCache interface {
	SetLatest(ctx context.Context, candle models.Candle) error
}

// Status is the control-surface snapshot of registry state.
type Status struct {
	ActiveConnectionKeys []string       `json:"active_connection_keys"`
	SubscriberCountByKey map[string]int `json:"subscriber_count_by_key"`
}

// BridgeConfig wires a Bridge.
type BridgeConfig struct {
	BaseInterval string
	Factory      ConnectionFactory
	Dispatcher   *DeliveryDispatcher
	Logger       *logrus.Logger

	// SupportedExchange validates exchange names before any state is
	// touched. nil accepts every name.
	SupportedExchange func(exchange string) bool
}

// Bridge is the coordinating component that owns all shared state: the
// connection pool, the subscription map, and the aggregation buffers.
// There is no ambient/static state; tests construct fresh instances.
type Bridge struct {
	baseInterval string

	// mu serializes Subscribe/Unsubscribe/Close. The remaining-interest
	// check and the connection release must be atomic: a subscribe landing
	// between them would re-register against a connection the pending
	// release is about to stop.
	mu   sync.Mutex
	subs *SubscriptionRegistry
	conns        *ConnectionRegistry
	agg          *TimeframeAggregator
	dispatcher   *DeliveryDispatcher
	factory      ConnectionFactory
	supported    func(string) bool
	logger       *logrus.Logger

	publisher Publisher   // optional
	cache     LatestCache // optional
	cacheTTL  time.Duration
}

func NewBridge(cfg BridgeConfig) *Bridge {
	return &Bridge{
		baseInterval: cfg.BaseInterval,
		subs:         NewSubscriptionRegistry(),
		conns:        NewConnectionRegistry(),
		agg:          NewTimeframeAggregator(cfg.BaseInterval),
		dispatcher:   cfg.Dispatcher,
		factory:      cfg.Factory,
		supported:    cfg.SupportedExchange,
		logger:       cfg.Logger,
	}
}

// SetPublisher enables Redis pub/sub broadcasting of base candles.
func (b *Bridge) SetPublisher(publisher Publisher) {
	b.publisher = publisher
}

// SetLatestCache enables latest-candle caching.
func (b *Bridge) SetLatestCache(cache LatestCache) {
	b.cache = cache
}

// Subscribe registers a subscriber against (exchange, symbol, timeframe)
// and opens the base connection for the pair if none exists. Returns the
// resulting subscriber count for the key.
func (b *Bridge) Subscribe(exchange, symbol, timeframe, subscriberID string) (int, error) {
	if err := b.validate(exchange, symbol, timeframe, subscriberID); err != nil {
		return 0, err
	}
	if _, err := models.BaseCandleCount(timeframe); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if b.supported != nil && !b.supported(exchange) {
		return 0, fmt.Errorf("%w: unsupported exchange: %s", ErrInvalidArgument, exchange)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exchange = strings.ToLower(exchange)
	symbol = strings.ToUpper(symbol)

	key := SubscriptionKey{Exchange: exchange, Symbol: symbol, Timeframe: timeframe}
	count := b.subs.Subscribe(key, subscriberID)

	connKey := ConnectionKey{Exchange: exchange, Symbol: symbol, Interval: b.baseInterval}
	_, err := b.conns.Acquire(connKey, func() (Conn, error) {
		return b.factory(
			exchange, symbol, b.baseInterval,
			b.handleCandle,
			func() bool { return b.subs.HasInterest(exchange, symbol) },
			func() { b.conns.Drop(connKey) },
		)
	})
	if err != nil {
		// Roll the registration back; a subscribe that cannot open its
		// connection must not leave state behind.
		b.subs.Unsubscribe(key, subscriberID)
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	b.logger.Infof("📊 Subscribed %s to %s %s %s (%d on key)", subscriberID, exchange, symbol, timeframe, count)
	return count, nil
}

// Unsubscribe removes the subscriber from the key and, once the (exchange,
// symbol) pair has zero subscribers across all timeframes, releases the
// underlying connection. Unsubscribing a never-subscribed pair is a no-op.
func (b *Bridge) Unsubscribe(exchange, symbol, timeframe, subscriberID string) error {
	if err := b.validate(exchange, symbol, timeframe, subscriberID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	exchange = strings.ToLower(exchange)
	symbol = strings.ToUpper(symbol)

	key := SubscriptionKey{Exchange: exchange, Symbol: symbol, Timeframe: timeframe}
	othersRemain := b.subs.Unsubscribe(key, subscriberID)
	b.agg.Drop(subscriberID, exchange, symbol, timeframe)

	if !othersRemain {
		b.conns.Release(ConnectionKey{Exchange: exchange, Symbol: symbol, Interval: b.baseInterval})
		b.logger.Infof("🗑️  Released connection for %s %s (no subscribers remain)", exchange, symbol)
	}
	return nil
}

// Status returns the active connection keys and subscriber counts.
func (b *Bridge) Status() Status {
	connKeys := b.conns.Keys()
	keys := make([]string, 0, len(connKeys))
	for _, key := range connKeys {
		keys = append(keys, key.String())
	}

	return Status{
		ActiveConnectionKeys: keys,
		SubscriberCountByKey: b.subs.CountByKey(),
	}
}

// Close releases every pooled connection and waits for in-flight
// deliveries.
func (b *Bridge) Close() {
	b.mu.Lock()
	for _, key := range b.conns.Keys() {
		b.conns.Release(key)
	}
	b.mu.Unlock()
	b.dispatcher.Wait()
}

// handleCandle is the single entry point for finalized base candles from
// upstream connections. Candles from one connection arrive in socket order;
// deliveries for distinct subscribers complete unordered.
func (b *Bridge) handleCandle(candle models.Candle) {
	b.broadcast(candle)

	for _, interest := range b.subs.Interested(candle.Exchange, candle.Symbol) {
		if interest.Timeframe == b.baseInterval {
			out := candle
			out.Timeframe = interest.Timeframe
			b.dispatcher.Dispatch(out, interest.Subscriber)
			continue
		}

		derived, done := b.agg.Push(interest.Subscriber, interest.Timeframe, candle)
		if !done {
			continue
		}
		b.dispatcher.Dispatch(derived, interest.Subscriber)
	}
}

// broadcast mirrors the base candle to Redis pub/sub and the latest-candle
// cache when configured. Failures are logged and swallowed.
func (b *Bridge) broadcast(candle models.Candle) {
	if b.publisher == nil && b.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if b.publisher != nil {
		if err := b.publisher.PublishCandle(ctx, candle); err != nil {
			b.logger.WithError(err).Debugf("Failed to publish candle for %s %s", candle.Exchange, candle.Symbol)
		}
	}
	if b.cache != nil {
		if err := b.cache.SetLatest(ctx, candle); err != nil {
			b.logger.WithError(err).Debugf("Failed to cache candle for %s %s", candle.Exchange, candle.Symbol)
		}
	}
}

func (b *Bridge) validate(exchange, symbol, timeframe, subscriberID string) error {
	switch {
	case strings.TrimSpace(exchange) == "":
		return fmt.Errorf("%w: exchange is required", ErrInvalidArgument)
	case strings.TrimSpace(symbol) == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidArgument)
	case strings.TrimSpace(timeframe) == "":
		return fmt.Errorf("%w: timeframe is required", ErrInvalidArgument)
	case strings.TrimSpace(subscriberID) == "":
		return fmt.Errorf("%w: subscriber id is required", ErrInvalidArgument)
	}
	return nil
}
