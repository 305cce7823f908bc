package exchange

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/metrics"
)

// Supervisor keeps one upstream connection alive for as long as subscriber
// interest persists. On socket close it waits a fixed delay, then re-checks
// interest before dialing again: an unsubscribe may race the pending timer,
// and a fired timer must not resurrect a connection nobody wants. Attempts
// are unlimited while interest remains; the delay never grows.
type Supervisor struct {
	conn        *Connection
	delay       time.Duration
	hasInterest func() bool
	onStop      func()
	logger      *logrus.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSupervisor(conn *Connection, delay time.Duration, hasInterest func() bool, onStop func(), logger *logrus.Logger) *Supervisor {
	return &Supervisor{
		conn:        conn,
		delay:       delay,
		hasInterest: hasInterest,
		onStop:      onStop,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Start launches the supervision loop.
func (s *Supervisor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

// Stop cancels the loop and closes the socket. It does not wait for the
// loop to exit; the loop may be mid-delivery of a candle.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.conn.Close()
}

// Done is closed when the supervision loop has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	// Cancel on every exit path, including self-retirement: each session of
	// conn.Run leaves a context watcher behind that must unwind.
	defer s.cancel()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.conn.Run(ctx); err != nil {
			s.logger.WithError(err).Warnf("%s connection lost: %s %s (reconnect in %v)",
				s.conn.exchange, s.conn.symbol, s.conn.interval, s.delay)
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.delay):
		}

		// Interest is evaluated now, not at close time.
		if !s.hasInterest() {
			s.logger.Infof("🗑️  No subscribers remain for %s %s, releasing connection",
				s.conn.exchange, s.conn.symbol)
			if s.onStop != nil {
				s.onStop()
			}
			return
		}

		metrics.ReconnectAttempts.WithLabelValues(s.conn.exchange).Inc()
	}
}
