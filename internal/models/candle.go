package models

import (
	"fmt"
	"time"
)

// Candle represents one finalized OHLCV record for a fixed time interval.
// OpenTime is the start instant of the interval in the exchange's native
// epoch-millisecond unit. Candles are only ever built for closed intervals;
// an in-progress interval never produces a Candle.
type Candle struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	OpenTime  int64   `json:"open_time"` // Milliseconds
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// baseCandleCounts maps a timeframe to the number of base (1-minute)
// candles required to build one candle of that timeframe.
var baseCandleCounts = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"4h":  240,
}

// BaseCandleCount returns how many base-interval candles make up one candle
// of the given timeframe.
func BaseCandleCount(timeframe string) (int, error) {
	n, ok := baseCandleCounts[timeframe]
	if !ok {
		return 0, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
	return n, nil
}

// IntervalToDuration converts an interval string to a duration
func IntervalToDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return 1 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return 1 * time.Hour
	case "4h":
		return 4 * time.Hour
	default:
		return 1 * time.Minute
	}
}

// ValidTimeframes returns the supported timeframes, smallest first
func ValidTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h"}
}
