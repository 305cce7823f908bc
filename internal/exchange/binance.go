package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

const (
	binanceWSBase        = "wss://stream.binance.com:9443/ws"
	binanceTestnetWSBase = "wss://stream.testnet.binance.vision/ws"
)

// binanceDecoder handles the Binance-family kline stream. The stream name
// is part of the URL, so no subscribe frame is needed after the dial.
type binanceDecoder struct {
	exchange string
	testnet  bool
}

// BinanceKlineMessage represents a Binance kline WebSocket message
type BinanceKlineMessage struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime     int64  `json:"t"`
		CloseTime     int64  `json:"T"`
		Symbol        string `json:"s"`
		Interval      string `json:"i"`
		Open          string `json:"o"`
		Close         string `json:"c"`
		High          string `json:"h"`
		Low           string `json:"l"`
		Volume        string `json:"v"`
		IsKlineClosed bool   `json:"x"`
	} `json:"k"`
}

func (d *binanceDecoder) URL(symbol, interval string) string {
	base := binanceWSBase
	if d.testnet {
		base = binanceTestnetWSBase
	}
	return fmt.Sprintf("%s/%s@kline_%s", base, strings.ToLower(symbol), interval)
}

func (d *binanceDecoder) SubscribeFrames(symbol, interval string) []interface{} {
	return nil
}

func (d *binanceDecoder) PingFrame() interface{} {
	return nil
}

func (d *binanceDecoder) Decode(message []byte) ([]models.Candle, error) {
	var msg BinanceKlineMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, fmt.Errorf("binance message: %w", err)
	}

	if msg.EventType != "kline" {
		return nil, nil
	}

	// Only emit closed intervals
	if !msg.Kline.IsKlineClosed {
		return nil, nil
	}

	candle := models.Candle{
		Exchange:  d.exchange,
		Symbol:    strings.ToUpper(msg.Symbol),
		Timeframe: msg.Kline.Interval,
		OpenTime:  msg.Kline.StartTime,
	}

	var err error
	if candle.Open, err = strconv.ParseFloat(msg.Kline.Open, 64); err != nil {
		return nil, fmt.Errorf("binance open: %w", err)
	}
	if candle.High, err = strconv.ParseFloat(msg.Kline.High, 64); err != nil {
		return nil, fmt.Errorf("binance high: %w", err)
	}
	if candle.Low, err = strconv.ParseFloat(msg.Kline.Low, 64); err != nil {
		return nil, fmt.Errorf("binance low: %w", err)
	}
	if candle.Close, err = strconv.ParseFloat(msg.Kline.Close, 64); err != nil {
		return nil, fmt.Errorf("binance close: %w", err)
	}
	if candle.Volume, err = strconv.ParseFloat(msg.Kline.Volume, 64); err != nil {
		return nil, fmt.Errorf("binance volume: %w", err)
	}

	return []models.Candle{candle}, nil
}
