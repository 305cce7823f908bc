package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/api"
	"github.com/cointop10/cointop10-websocket/internal/cache"
	"github.com/cointop10/cointop10-websocket/internal/config"
	"github.com/cointop10/cointop10-websocket/internal/delivery"
	"github.com/cointop10/cointop10-websocket/internal/exchange"
	"github.com/cointop10/cointop10-websocket/internal/models"
	"github.com/cointop10/cointop10-websocket/internal/proxy"
	"github.com/cointop10/cointop10-websocket/internal/pubsub"
	"github.com/cointop10/cointop10-websocket/internal/stream"
)

var version = "1.0.0"

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	logger.Info("Starting candle stream bridge...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: ", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid config: ", err)
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional proxy service for exchanges that block direct connections
	var proxySvc *proxy.Service
	if cfg.Exchange.EnableProxies {
		proxySvc = proxy.NewService(logger)
		proxySvc.Start(ctx)
	}

	limiters := exchange.NewLimiterManager()

	// Connection factory: one supervised WebSocket per exchange+symbol at
	// the base interval
	factory := func(exchangeName, symbol, interval string, handler func(models.Candle), hasInterest func() bool, onStop func()) (stream.Conn, error) {
		newDecoder := exchange.NewDecoder
		if cfg.Exchange.Testnet {
			newDecoder = exchange.NewSandboxDecoder
		}
		decoder, err := newDecoder(exchangeName)
		if err != nil {
			return nil, err
		}

		conn := exchange.NewConnection(exchangeName, symbol, interval, decoder, handler, logger)
		conn.SetHandshakeTimeout(cfg.Exchange.HandshakeTimeout)
		conn.SetLimiter(limiters)
		if proxySvc != nil {
			conn.SetProxyProvider(proxySvc)
		}

		return exchange.NewSupervisor(conn, cfg.Exchange.ReconnectDelay, hasInterest, onStop, logger), nil
	}

	// Delivery sink
	sink := delivery.NewWebhookSink(cfg.Delivery.Endpoint, cfg.Delivery.Timeout, logger)
	dispatcher := stream.NewDeliveryDispatcher(sink, logger)

	bridge := stream.NewBridge(stream.BridgeConfig{
		BaseInterval:      cfg.Exchange.BaseInterval,
		Factory:           factory,
		Dispatcher:        dispatcher,
		SupportedExchange: exchange.Supported,
		Logger:            logger,
	})

	// Optional Redis pub/sub and latest-candle cache
	if cfg.Redis.Enabled {
		logger.Info("Connecting to Redis...")
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis: ", err)
		}
		defer redisClient.Close()
		logger.Info("Redis connected successfully")

		bridge.SetPublisher(pubsub.NewPublisher(redisClient, logger))
		bridge.SetLatestCache(cache.NewCandleCache(redisClient, cfg.Cache.CandleTTL, logger))
	}

	// Open preconfigured streams
	if cfg.StreamsFile != "" {
		presets, err := config.LoadStreamsFromYAML(cfg.StreamsFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load stream presets")
		}
		for _, p := range presets {
			if _, err := bridge.Subscribe(p.Exchange, p.Symbol, p.Timeframe, p.Subscriber); err != nil {
				logger.WithError(err).Warnf("Preset stream rejected: %s %s %s", p.Exchange, p.Symbol, p.Timeframe)
			}
		}
	}

	// HTTP control surface
	apiSrv := api.NewServer(bridge, version, logger)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: apiSrv.Handler(),
	}

	httpErrChan := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on :%d", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrChan <- err
		}
	}()

	logger.Infof("Candle stream bridge v%s started successfully", version)

	// Wait for shutdown signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case err := <-httpErrChan:
		logger.WithError(err).Error("HTTP server error")
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown error")
	}

	bridge.Close()
	logger.Info("Shutdown complete")
}
