package exchange

import (
	"fmt"
	"strings"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

// Decoder normalizes one exchange's kline wire format into canonical
// candles. Adding an exchange means adding one implementation; nothing in
// the dispatch path changes.
type Decoder interface {
	// URL returns the WebSocket endpoint for one symbol/interval stream.
	URL(symbol, interval string) string

	// SubscribeFrames returns control messages to send immediately after
	// the socket opens. May be empty.
	SubscribeFrames(symbol, interval string) []interface{}

	// PingFrame returns the heartbeat message, or nil when the exchange
	// needs none.
	PingFrame() interface{}

	// Decode extracts finalized candles from a raw message. A nil slice
	// with a nil error means the message carried no closed candle
	// (in-progress update, ack, pong).
	Decode(message []byte) ([]models.Candle, error)
}

// NewDecoder selects the decoder variant for an exchange name. A "-testnet"
// suffix selects the sandbox endpoint of the same base exchange; the
// suffixed name is kept on emitted candles so they match the subscription.
func NewDecoder(exchange string) (Decoder, error) {
	return newDecoder(exchange, false)
}

// NewSandboxDecoder selects the exchange's sandbox endpoint while keeping
// the given name on emitted candles. Used when the whole process runs
// against testnets without renaming its streams.
func NewSandboxDecoder(exchange string) (Decoder, error) {
	return newDecoder(exchange, true)
}

func newDecoder(exchange string, forceTestnet bool) (Decoder, error) {
	base, testnet := splitTestnet(exchange)
	testnet = testnet || forceTestnet

	switch base {
	case "binance":
		return &binanceDecoder{exchange: exchange, testnet: testnet}, nil
	case "bybit":
		return &bybitDecoder{exchange: exchange, testnet: testnet}, nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", exchange)
	}
}

// Supported reports whether an exchange name resolves to a decoder.
func Supported(exchange string) bool {
	_, err := NewDecoder(exchange)
	return err == nil
}

// BaseName strips the -testnet suffix from an exchange name.
func BaseName(exchange string) string {
	base, _ := splitTestnet(exchange)
	return base
}

func splitTestnet(exchange string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(exchange))
	if base, ok := strings.CutSuffix(name, "-testnet"); ok {
		return base, true
	}
	return name, false
}
