package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

const (
	bybitWSURL        = "wss://stream.bybit.com/v5/public/spot"
	bybitTestnetWSURL = "wss://stream-testnet.bybit.com/v5/public/spot"
)

// bybitDecoder handles the Bybit V5 kline stream. Bybit multiplexes topics
// over one endpoint, so a subscribe frame naming kline.<code>.<symbol> is
// sent right after the socket opens, and a periodic ping keeps the
// connection alive.
type bybitDecoder struct {
	exchange string
	testnet  bool
}

// BybitKlineMessage represents a Bybit V5 kline WebSocket message.
// A single message may batch multiple intervals in Data.
type BybitKlineMessage struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  []struct {
		Start    int64  `json:"start"`
		End      int64  `json:"end"`
		Interval string `json:"interval"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
		Confirm  bool   `json:"confirm"`
	} `json:"data"`
}

func (d *bybitDecoder) URL(symbol, interval string) string {
	if d.testnet {
		return bybitTestnetWSURL
	}
	return bybitWSURL
}

func (d *bybitDecoder) SubscribeFrames(symbol, interval string) []interface{} {
	topic := fmt.Sprintf("kline.%s.%s", bybitIntervalCode(interval), strings.ToUpper(symbol))
	return []interface{}{
		map[string]interface{}{
			"op":   "subscribe",
			"args": []string{topic},
		},
	}
}

func (d *bybitDecoder) PingFrame() interface{} {
	return map[string]string{"op": "ping"}
}

func (d *bybitDecoder) Decode(message []byte) ([]models.Candle, error) {
	var msg BybitKlineMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, fmt.Errorf("bybit message: %w", err)
	}

	if !strings.HasPrefix(msg.Topic, "kline.") {
		return nil, nil
	}

	parts := strings.Split(msg.Topic, ".")
	if len(parts) < 3 {
		return nil, fmt.Errorf("bybit topic malformed: %s", msg.Topic)
	}
	symbol := strings.ToUpper(parts[2])

	var candles []models.Candle
	for _, k := range msg.Data {
		// Only emit confirmed (closed) intervals
		if !k.Confirm {
			continue
		}

		candle := models.Candle{
			Exchange:  d.exchange,
			Symbol:    symbol,
			Timeframe: bybitCodeToTimeframe(k.Interval),
			OpenTime:  k.Start,
		}

		var err error
		if candle.Open, err = strconv.ParseFloat(k.Open, 64); err != nil {
			return nil, fmt.Errorf("bybit open: %w", err)
		}
		if candle.High, err = strconv.ParseFloat(k.High, 64); err != nil {
			return nil, fmt.Errorf("bybit high: %w", err)
		}
		if candle.Low, err = strconv.ParseFloat(k.Low, 64); err != nil {
			return nil, fmt.Errorf("bybit low: %w", err)
		}
		if candle.Close, err = strconv.ParseFloat(k.Close, 64); err != nil {
			return nil, fmt.Errorf("bybit close: %w", err)
		}
		if candle.Volume, err = strconv.ParseFloat(k.Volume, 64); err != nil {
			return nil, fmt.Errorf("bybit volume: %w", err)
		}

		candles = append(candles, candle)
	}

	return candles, nil
}

// bybitIntervalCode converts an interval to Bybit's topic code (1m -> "1")
func bybitIntervalCode(interval string) string {
	switch interval {
	case "1m":
		return "1"
	case "5m":
		return "5"
	case "15m":
		return "15"
	case "30m":
		return "30"
	case "1h":
		return "60"
	case "4h":
		return "240"
	default:
		return "1"
	}
}

func bybitCodeToTimeframe(code string) string {
	switch code {
	case "1":
		return "1m"
	case "5":
		return "5m"
	case "15":
		return "15m"
	case "30":
		return "30m"
	case "60":
		return "1h"
	case "240":
		return "4h"
	default:
		return "1m"
	}
}
