package stream

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

// fakeUpstream stands in for a supervised websocket connection; tests feed
// candles through the captured handler.
type fakeUpstream struct {
	exchange string
	symbol   string
	interval string
	handler  func(models.Candle)

	mu      sync.Mutex
	started bool
	stopped bool
}

func (u *fakeUpstream) Start() {
	u.mu.Lock()
	u.started = true
	u.mu.Unlock()
}

func (u *fakeUpstream) Stop() {
	u.mu.Lock()
	u.stopped = true
	u.mu.Unlock()
}

func (u *fakeUpstream) isStopped() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stopped
}

type bridgeFixture struct {
	bridge    *Bridge
	sink      *recordingSink
	mu        sync.Mutex
	upstreams []*fakeUpstream
}

func newBridgeFixture(t *testing.T) *bridgeFixture {
	t.Helper()

	f := &bridgeFixture{sink: newRecordingSink()}
	dispatcher := NewDeliveryDispatcher(f.sink, testLogger())

	f.bridge = NewBridge(BridgeConfig{
		BaseInterval: "1m",
		Dispatcher:   dispatcher,
		Logger:       testLogger(),
		SupportedExchange: func(exchange string) bool {
			return exchange == "binance" || exchange == "bybit"
		},
		Factory: func(exchange, symbol, interval string, handler func(models.Candle), hasInterest func() bool, onStop func()) (Conn, error) {
			u := &fakeUpstream{exchange: exchange, symbol: symbol, interval: interval, handler: handler}
			f.mu.Lock()
			f.upstreams = append(f.upstreams, u)
			f.mu.Unlock()
			return u, nil
		},
	})
	return f
}

func (f *bridgeFixture) upstream(i int) *fakeUpstream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.upstreams[i]
}

func (f *bridgeFixture) upstreamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upstreams)
}

func (f *bridgeFixture) feed(i int, candle models.Candle) {
	f.upstream(i).handler(candle)
	f.bridge.dispatcher.Wait()
}

func minuteCandle(openTime int64, close float64) models.Candle {
	return models.Candle{
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		OpenTime:  openTime,
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    1,
	}
}

func TestSubscribeSharesOneConnection(t *testing.T) {
	f := newBridgeFixture(t)

	if _, err := f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u1"); err != nil {
		t.Fatalf("subscribe u1: %v", err)
	}
	if _, err := f.bridge.Subscribe("binance", "BTCUSDT", "5m", "u2"); err != nil {
		t.Fatalf("subscribe u2: %v", err)
	}

	if got := f.upstreamCount(); got != 1 {
		t.Fatalf("opened %d upstream connections, want 1", got)
	}

	f.feed(0, minuteCandle(0, 100))

	got := f.sink.delivered()
	if len(got) != 1 || got[0] != "u1/1m" {
		t.Errorf("deliveries after first candle = %v, want only u1/1m", got)
	}
}

func TestSubscribersOnSameKeyBothReceive(t *testing.T) {
	f := newBridgeFixture(t)

	if _, err := f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u1"); err != nil {
		t.Fatalf("subscribe u1: %v", err)
	}
	count, err := f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u2")
	if err != nil {
		t.Fatalf("subscribe u2: %v", err)
	}
	if count != 2 {
		t.Fatalf("subscriber count = %d, want 2", count)
	}
	if got := f.upstreamCount(); got != 1 {
		t.Fatalf("opened %d upstream connections, want 1", got)
	}

	f.feed(0, minuteCandle(0, 100))
	f.feed(0, minuteCandle(60000, 101))

	seen := make(map[string]int)
	for _, d := range f.sink.delivered() {
		seen[d]++
	}
	if seen["u1/1m"] != 2 || seen["u2/1m"] != 2 {
		t.Errorf("deliveries = %v, want 2 candles each for u1 and u2", seen)
	}
}

func TestCaseNormalization(t *testing.T) {
	f := newBridgeFixture(t)

	if _, err := f.bridge.Subscribe("Binance", "btcusdt", "1m", "u1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := f.bridge.Subscribe("BINANCE", "BTCUSDT", "1m", "u2"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if got := f.upstreamCount(); got != 1 {
		t.Fatalf("case variants opened %d connections, want 1", got)
	}
	u := f.upstream(0)
	if u.exchange != "binance" || u.symbol != "BTCUSDT" {
		t.Errorf("connection opened for %s %s, want binance BTCUSDT", u.exchange, u.symbol)
	}
}

func TestBasePassthroughPreservesFields(t *testing.T) {
	f := newBridgeFixture(t)

	if _, err := f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	in := models.Candle{
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		OpenTime:  1700000000000,
		Open:      99.5,
		High:      100.7,
		Low:       99.1,
		Close:     100.2,
		Volume:    3.25,
	}

	var got models.Candle
	f.bridge.dispatcher.SetObserver(func(o Outcome) { got = o.Candle })
	f.feed(0, in)

	if got != in {
		t.Errorf("base passthrough altered the candle:\n got %+v\nwant %+v", got, in)
	}
}

func TestDerivedCandleDelivery(t *testing.T) {
	f := newBridgeFixture(t)

	if _, err := f.bridge.Subscribe("binance", "BTCUSDT", "5m", "u1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var mu sync.Mutex
	var outcomes []Outcome
	f.bridge.dispatcher.SetObserver(func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	closes := []float64{100, 101, 99, 102, 103}
	for i, c := range closes {
		f.feed(0, minuteCandle(int64(i*60000), c))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 1 {
		t.Fatalf("delivered %d candles over 5 base candles, want 1: %v", len(outcomes), outcomes)
	}
	derived := outcomes[0].Candle
	if derived.Timeframe != "5m" {
		t.Errorf("timeframe = %s, want 5m", derived.Timeframe)
	}
	if derived.OpenTime != 0 {
		t.Errorf("openTime = %d, want first base candle's 0", derived.OpenTime)
	}
	if derived.Open != 99 {
		t.Errorf("open = %v, want first base candle's open 99", derived.Open)
	}
	if derived.Close != 103 {
		t.Errorf("close = %v, want 103", derived.Close)
	}
	if derived.High != 104 {
		t.Errorf("high = %v, want 104", derived.High)
	}
	if derived.Low != 97 {
		t.Errorf("low = %v, want 97", derived.Low)
	}
	if derived.Volume != 5 {
		t.Errorf("volume = %v, want 5", derived.Volume)
	}
}

func TestUnsubscribeReleasesConnectionWhenPairDrains(t *testing.T) {
	f := newBridgeFixture(t)

	f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u1")
	f.bridge.Subscribe("binance", "BTCUSDT", "5m", "u1")

	if err := f.bridge.Unsubscribe("binance", "BTCUSDT", "1m", "u1"); err != nil {
		t.Fatalf("unsubscribe 1m: %v", err)
	}
	if f.upstream(0).isStopped() {
		t.Fatal("connection released while the 5m subscription remains")
	}

	if err := f.bridge.Unsubscribe("binance", "BTCUSDT", "5m", "u1"); err != nil {
		t.Fatalf("unsubscribe 5m: %v", err)
	}
	if !f.upstream(0).isStopped() {
		t.Fatal("connection not released after the pair drained")
	}
	if got := len(f.bridge.Status().ActiveConnectionKeys); got != 0 {
		t.Errorf("status reports %d active connections, want 0", got)
	}
}

func TestUnsubscribeDiscardsPartialBuffer(t *testing.T) {
	f := newBridgeFixture(t)

	f.bridge.Subscribe("binance", "BTCUSDT", "5m", "u1")

	// Three of five; no delivery yet
	for i := 0; i < 3; i++ {
		f.feed(0, minuteCandle(int64(i*60000), 100))
	}
	f.bridge.Unsubscribe("binance", "BTCUSDT", "5m", "u1")

	// Resubscribe: the old partial buffer must not leak into the new window
	f.bridge.Subscribe("binance", "BTCUSDT", "5m", "u1")

	var mu sync.Mutex
	var outcomes []Outcome
	f.bridge.dispatcher.SetObserver(func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	})

	for i := 3; i < 7; i++ {
		f.feed(1, minuteCandle(int64(i*60000), 100))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) != 0 {
		t.Fatalf("stale buffer produced a premature fold: %v", outcomes)
	}
}

func TestResubscribeDuringTeardownKeepsConnection(t *testing.T) {
	f := newBridgeFixture(t)

	if _, err := f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u1"); err != nil {
		t.Fatalf("subscribe u1: %v", err)
	}

	// Park the unsubscriber mid-teardown on the aggregator lock, then race
	// a fresh subscribe for the same pair against it. The new subscriber
	// must end up on a live connection either way.
	f.bridge.agg.mu.Lock()

	unsubDone := make(chan struct{})
	go func() {
		defer close(unsubDone)
		f.bridge.Unsubscribe("binance", "BTCUSDT", "1m", "u1")
	}()

	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		time.Sleep(20 * time.Millisecond)
		f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u2")
	}()

	time.Sleep(50 * time.Millisecond)
	f.bridge.agg.mu.Unlock()
	<-unsubDone
	<-subDone

	status := f.bridge.Status()
	if status.SubscriberCountByKey["binance:BTCUSDT:1m"] != 1 {
		t.Fatalf("counts = %v, want u2 registered", status.SubscriberCountByKey)
	}
	if len(status.ActiveConnectionKeys) != 1 {
		t.Fatalf("active connections = %v, want exactly 1", status.ActiveConnectionKeys)
	}

	live := f.upstream(f.upstreamCount() - 1)
	if live.isStopped() {
		t.Fatal("subscriber u2 is registered but its connection was stopped")
	}

	f.feed(f.upstreamCount()-1, minuteCandle(0, 100))
	got := f.sink.delivered()
	if len(got) != 1 || got[0] != "u2/1m" {
		t.Errorf("deliveries = %v, want only u2/1m", got)
	}
}

func TestSubscribeValidation(t *testing.T) {
	f := newBridgeFixture(t)

	cases := []struct {
		name                                     string
		exchange, symbol, timeframe, subscriber string
	}{
		{"empty exchange", "", "BTCUSDT", "1m", "u1"},
		{"empty symbol", "binance", "", "1m", "u1"},
		{"empty timeframe", "binance", "BTCUSDT", "", "u1"},
		{"empty subscriber", "binance", "BTCUSDT", "1m", ""},
		{"unknown timeframe", "binance", "BTCUSDT", "7m", "u1"},
		{"unsupported exchange", "kraken", "BTCUSDT", "1m", "u1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.bridge.Subscribe(tc.exchange, tc.symbol, tc.timeframe, tc.subscriber)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("err = %v, want ErrInvalidArgument", err)
			}
		})
	}

	if got := f.upstreamCount(); got != 0 {
		t.Errorf("rejected subscribes opened %d connections", got)
	}
	if got := f.bridge.Status(); len(got.SubscriberCountByKey) != 0 {
		t.Errorf("rejected subscribes left state behind: %+v", got)
	}
}

func TestFactoryErrorRollsBackSubscription(t *testing.T) {
	f := newBridgeFixture(t)
	f.bridge.factory = func(exchange, symbol, interval string, handler func(models.Candle), hasInterest func() bool, onStop func()) (Conn, error) {
		return nil, errors.New("dial: connection refused")
	}

	if _, err := f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u1"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want wrapped ErrInvalidArgument", err)
	}
	if got := f.bridge.Status(); len(got.SubscriberCountByKey) != 0 {
		t.Errorf("failed subscribe left subscriptions behind: %+v", got)
	}
}

func TestStatusSnapshot(t *testing.T) {
	f := newBridgeFixture(t)

	f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u1")
	f.bridge.Subscribe("binance", "BTCUSDT", "1m", "u2")
	f.bridge.Subscribe("bybit", "ETHUSDT", "5m", "u1")

	status := f.bridge.Status()
	if len(status.ActiveConnectionKeys) != 2 {
		t.Errorf("active connections = %v, want 2 entries", status.ActiveConnectionKeys)
	}
	if status.SubscriberCountByKey["binance:BTCUSDT:1m"] != 2 {
		t.Errorf("binance:BTCUSDT:1m count = %d, want 2", status.SubscriberCountByKey["binance:BTCUSDT:1m"])
	}
	if status.SubscriberCountByKey["bybit:ETHUSDT:5m"] != 1 {
		t.Errorf("bybit:ETHUSDT:5m count = %d, want 1", status.SubscriberCountByKey["bybit:ETHUSDT:5m"])
	}
}
