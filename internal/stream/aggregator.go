package stream

import (
	"sync"

	"github.com/cointop10/cointop10-websocket/internal/metrics"
	"github.com/cointop10/cointop10-websocket/internal/models"
)

// bufferKey identifies one subscriber's sliding buffer. The timeframe is
// part of the key: one subscriber may hold two timeframes on the same pair
// and the buffers must not share state.
type bufferKey struct {
	Subscriber string
	Exchange   string
	Symbol     string
	Timeframe  string
}

// TimeframeAggregator folds a stream of base-interval candles into derived
// candles of a coarser timeframe, one sliding buffer per subscriber.
// Consumption is in arrival order: each fold drains the oldest n candles,
// never the most recent.
type TimeframeAggregator struct {
	baseInterval string

	mu      sync.Mutex
	buffers map[bufferKey][]models.Candle
}

func NewTimeframeAggregator(baseInterval string) *TimeframeAggregator {
	return &TimeframeAggregator{
		baseInterval: baseInterval,
		buffers:      make(map[bufferKey][]models.Candle),
	}
}

// Push appends one base candle to the subscriber's buffer and, when enough
// candles have accumulated, folds the oldest n into one derived candle.
// Returns the derived candle and true when a fold completed.
//
// A target timeframe equal to the base interval bypasses buffering: the
// candle is forwarded verbatim with the timeframe relabeled.
func (a *TimeframeAggregator) Push(subscriberID, timeframe string, candle models.Candle) (models.Candle, bool) {
	n, err := models.BaseCandleCount(timeframe)
	if err != nil {
		// Unknown timeframes are rejected at subscribe time
		return models.Candle{}, false
	}

	if timeframe == a.baseInterval || n <= 1 {
		out := candle
		out.Timeframe = timeframe
		return out, true
	}

	key := bufferKey{
		Subscriber: subscriberID,
		Exchange:   candle.Exchange,
		Symbol:     candle.Symbol,
		Timeframe:  timeframe,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	buf := append(a.buffers[key], candle)

	if len(buf) < n {
		a.buffers[key] = buf
		return models.Candle{}, false
	}

	derived := fold(buf[:n], timeframe)

	rest := make([]models.Candle, len(buf)-n)
	copy(rest, buf[n:])

	// Defensive bound; should not trigger with the drain above, but
	// protects against timeframe reconfiguration edge cases.
	if len(rest) > 2*n {
		rest = rest[len(rest)-2*n:]
	}
	a.buffers[key] = rest

	metrics.DerivedCandles.WithLabelValues(timeframe).Inc()
	return derived, true
}

// Drop discards the subscriber's buffer for one stream.
func (a *TimeframeAggregator) Drop(subscriberID, exchange, symbol, timeframe string) {
	a.mu.Lock()
	delete(a.buffers, bufferKey{
		Subscriber: subscriberID,
		Exchange:   exchange,
		Symbol:     symbol,
		Timeframe:  timeframe,
	})
	a.mu.Unlock()
}

// BufferLen returns the current buffer length for one stream.
func (a *TimeframeAggregator) BufferLen(subscriberID, exchange, symbol, timeframe string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers[bufferKey{
		Subscriber: subscriberID,
		Exchange:   exchange,
		Symbol:     symbol,
		Timeframe:  timeframe,
	}])
}

// fold collapses n consecutive base candles into one derived candle:
// open of the first, close of the last, max high, min low, summed volume,
// openTime of the first.
func fold(window []models.Candle, timeframe string) models.Candle {
	first := window[0]

	out := models.Candle{
		Exchange:  first.Exchange,
		Symbol:    first.Symbol,
		Timeframe: timeframe,
		OpenTime:  first.OpenTime,
		Open:      first.Open,
		High:      first.High,
		Low:       first.Low,
		Close:     first.Close,
		Volume:    0,
	}

	for _, c := range window {
		if c.High > out.High {
			out.High = c.High
		}
		if c.Low < out.Low {
			out.Low = c.Low
		}
		out.Close = c.Close
		out.Volume += c.Volume
	}

	return out
}
