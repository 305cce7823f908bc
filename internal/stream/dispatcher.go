package stream

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/metrics"
	"github.com/cointop10/cointop10-websocket/internal/models"
)

// Sink delivers one candle to one subscriber. Implementations may fail;
// failures are never retried and never surfaced to the subscribing caller.
type Sink interface {
	Deliver(ctx context.Context, candle models.Candle, subscriberID string) error
}

// Outcome is the structured result of one delivery attempt.
type Outcome struct {
	Candle     models.Candle
	Subscriber string
	Err        error
	Elapsed    time.Duration
}

// Delivered reports whether the sink accepted the candle.
func (o Outcome) Delivered() bool {
	return o.Err == nil
}

// OutcomeObserver receives the result of every delivery attempt.
type OutcomeObserver func(Outcome)

// DeliveryDispatcher fans a finalized candle out to interested subscribers.
// Delivery is best-effort fire-and-forget: one subscriber's failure never
// blocks or fails delivery to the others.
type DeliveryDispatcher struct {
	sink     Sink
	logger   *logrus.Logger
	observer OutcomeObserver

	wg sync.WaitGroup
}

func NewDeliveryDispatcher(sink Sink, logger *logrus.Logger) *DeliveryDispatcher {
	return &DeliveryDispatcher{
		sink:   sink,
		logger: logger,
	}
}

// SetObserver installs an observer for delivery outcomes. Must be set
// before the first Dispatch.
func (d *DeliveryDispatcher) SetObserver(observer OutcomeObserver) {
	d.observer = observer
}

// Dispatch hands the candle to the sink in its own goroutine.
func (d *DeliveryDispatcher) Dispatch(candle models.Candle, subscriberID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		start := time.Now()
		err := d.sink.Deliver(context.Background(), candle, subscriberID)
		elapsed := time.Since(start)

		metrics.TrackDelivery(err == nil)
		metrics.TrackLatency(start, metrics.DeliveryLatency)

		if err != nil {
			d.logger.WithError(err).Warnf("Delivery to %s failed: %s %s %s",
				subscriberID, candle.Exchange, candle.Symbol, candle.Timeframe)
		}

		if d.observer != nil {
			d.observer(Outcome{
				Candle:     candle,
				Subscriber: subscriberID,
				Err:        err,
				Elapsed:    elapsed,
			})
		}
	}()
}

// Wait blocks until all in-flight deliveries have completed.
func (d *DeliveryDispatcher) Wait() {
	d.wg.Wait()
}
