package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Exchange.BaseInterval != "1m" {
		t.Errorf("BaseInterval = %s, want 1m", cfg.Exchange.BaseInterval)
	}
	if cfg.Exchange.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", cfg.Exchange.ReconnectDelay)
	}
	if cfg.Redis.Enabled {
		t.Error("Redis enabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("RECONNECT_DELAY", "2s")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DELIVERY_ENDPOINT", "http://sink:9000/candles")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Exchange.ReconnectDelay != 2*time.Second {
		t.Errorf("ReconnectDelay = %v, want 2s", cfg.Exchange.ReconnectDelay)
	}
	if !cfg.Redis.Enabled {
		t.Error("REDIS_ENABLED not honored")
	}
	if got := cfg.Redis.Addr(); got != "redis.internal:6380" {
		t.Errorf("Redis addr = %s", got)
	}
	if cfg.Delivery.Endpoint != "http://sink:9000/candles" {
		t.Errorf("Delivery endpoint = %s", cfg.Delivery.Endpoint)
	}
}

func TestValidateRejectsBadBaseInterval(t *testing.T) {
	t.Setenv("BASE_INTERVAL", "7m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("invalid base interval passed validation")
	}
}

func TestLoadStreamsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.yaml")
	content := `streams:
  - exchange: binance
    symbol: BTCUSDT
    timeframe: 5m
    subscriber: boot
  - exchange: bybit
    symbol: ETHUSDT
    timeframe: 1h
    subscriber: boot
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	streams, err := LoadStreamsFromYAML(path)
	if err != nil {
		t.Fatalf("load streams: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("loaded %d streams, want 2", len(streams))
	}
	want := StreamPreset{Exchange: "binance", Symbol: "BTCUSDT", Timeframe: "5m", Subscriber: "boot"}
	if streams[0] != want {
		t.Errorf("first stream = %+v, want %+v", streams[0], want)
	}
}

func TestLoadStreamsErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadStreamsFromYAML(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("missing file loaded without error")
		}
	})

	t.Run("empty stream list", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "streams.yaml")
		if err := os.WriteFile(path, []byte("streams: []\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadStreamsFromYAML(path); err == nil {
			t.Error("empty stream list loaded without error")
		}
	})
}
