package exchange

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/metrics"
	"github.com/cointop10/cointop10-websocket/internal/models"
)

// pingInterval is how often heartbeats are sent to exchanges that need
// them (Bybit closes idle connections after 30s).
const pingInterval = 20 * time.Second

// ProxyProvider supplies SOCKS5 proxies for exchanges that block direct
// connections.
type ProxyProvider interface {
	GetProxyListWithWorkingFirst() []string
	SetWorkingProxy(proxy string)
}

// CandleHandler receives every finalized candle decoded from the stream.
type CandleHandler func(candle models.Candle)

// Connection owns one live socket to one exchange kline stream at one base
// interval. It emits finalized candles only; retrying is the supervisor's
// job.
type Connection struct {
	exchange string
	symbol   string
	interval string

	decoder Decoder
	handler CandleHandler
	logger  *logrus.Logger

	handshakeTimeout time.Duration
	limiter          *LimiterManager
	proxies          ProxyProvider

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewConnection(exchange, symbol, interval string, decoder Decoder, handler CandleHandler, logger *logrus.Logger) *Connection {
	return &Connection{
		exchange:         exchange,
		symbol:           symbol,
		interval:         interval,
		decoder:          decoder,
		handler:          handler,
		logger:           logger,
		handshakeTimeout: 15 * time.Second,
	}
}

// SetHandshakeTimeout overrides the default WebSocket handshake timeout.
func (c *Connection) SetHandshakeTimeout(d time.Duration) {
	c.handshakeTimeout = d
}

// SetLimiter installs a per-exchange dial rate limiter.
func (c *Connection) SetLimiter(limiter *LimiterManager) {
	c.limiter = limiter
}

// SetProxyProvider enables proxy-aware dialing for blocked exchanges.
func (c *Connection) SetProxyProvider(proxies ProxyProvider) {
	c.proxies = proxies
}

// Run performs one full session: dial, subscribe, read until the socket
// errors or ctx is cancelled. Returns nil on clean shutdown.
func (c *Connection) Run(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.exchange); err != nil {
			return err
		}
	}

	conn, proxyUsed, err := c.dialWithProxy(ctx)
	if err != nil {
		return err
	}

	if proxyUsed != "" && c.proxies != nil {
		c.proxies.SetWorkingProxy(proxyUsed)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.Close()
		metrics.ActiveConnections.Dec()
		c.logger.Infof("%s stream closed: %s %s", c.exchange, c.symbol, c.interval)
	}()
	metrics.ActiveConnections.Inc()
	c.logger.Infof("✅ %s stream connected: %s %s", c.exchange, c.symbol, c.interval)

	for _, frame := range c.decoder.SubscribeFrames(c.symbol, c.interval) {
		if err := conn.WriteJSON(frame); err != nil {
			return err
		}
	}

	if ping := c.decoder.PingFrame(); ping != nil {
		go c.sendPeriodicPing(ctx, conn, ping)
	}

	// Close the socket when the context is cancelled so ReadMessage
	// unblocks.
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	return c.readLoop(ctx, conn)
}

func (c *Connection) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		candles, err := c.decoder.Decode(message)
		if err != nil {
			// A parse failure on one message never terminates the
			// connection.
			metrics.ParseFailures.WithLabelValues(c.exchange).Inc()
			c.logger.WithError(err).Debugf("%s message skipped", c.exchange)
			continue
		}

		for _, candle := range candles {
			metrics.TrackCandleUpdate(candle.Exchange, candle.Symbol, candle.Timeframe)
			c.handler(candle)
		}
	}
}

// Close closes the underlying socket. Safe to call concurrently with Run.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// sendPeriodicPing sends heartbeat messages to keep the connection alive
func (c *Connection) sendPeriodicPing(ctx context.Context, conn *websocket.Conn, frame interface{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(frame); err != nil {
				c.logger.WithError(err).Debugf("%s ping failed", c.exchange)
				return
			}
		}
	}
}

// dialWithProxy attempts to connect, trying the working proxy first when a
// proxy provider is configured. Returns (connection, proxyUsed, error).
func (c *Connection) dialWithProxy(ctx context.Context) (*websocket.Conn, string, error) {
	proxies := []string{""}
	if c.proxies != nil {
		proxies = c.proxies.GetProxyListWithWorkingFirst()
	}

	wsURL := c.decoder.URL(c.symbol, c.interval)

	var lastErr error
	for i, proxyURL := range proxies {
		dialer := c.createDialer(proxyURL)

		conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			return conn, proxyURL, nil
		}
		lastErr = err

		if resp != nil && resp.StatusCode == http.StatusForbidden {
			c.logger.Warnf("❌ %s returned 403 Forbidden (IP blocked), trying next proxy", c.exchange)
			continue
		}

		// Don't walk the proxy list for ordinary errors on a direct dial
		if i == 0 && proxyURL == "" {
			break
		}
	}

	return nil, "", lastErr
}

func (c *Connection) createDialer(proxyURL string) *websocket.Dialer {
	dialer := &websocket.Dialer{
		HandshakeTimeout: c.handshakeTimeout,
	}

	if proxyURL != "" {
		if parsedURL, err := url.Parse(proxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(parsedURL)
			// Required for SOCKS5 proxies
			dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		} else {
			c.logger.Warnf("Invalid proxy URL %s: %v", proxyURL, err)
		}
	}

	return dialer
}
