package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/models"
)

type Publisher struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPublisher(client *redis.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// PublishCandle publishes a finalized candle to its stream channel
func (p *Publisher) PublishCandle(ctx context.Context, candle models.Candle) error {
	data, err := json.Marshal(candle)
	if err != nil {
		return err
	}

	channel := fmt.Sprintf("candles:%s:%s:%s", candle.Exchange, candle.Symbol, candle.Timeframe)
	return p.client.Publish(ctx, channel, data).Err()
}
