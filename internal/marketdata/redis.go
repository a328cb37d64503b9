package marketdata

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisClient abstracts the subset of *redis.Client this package needs, so
// tests can substitute a fake.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher mirrors a Publisher's Quote and Trade stream onto Redis
// pub/sub channels, for consumers outside this process.
type RedisPublisher struct {
	client        RedisClient
	quoteChannel  string
	tradeChannel  string
	logger        *logrus.Logger
}

// NewRedisPublisher creates a RedisPublisher publishing quotes and trades
// to channel names prefix+":quotes" and prefix+":trades".
func NewRedisPublisher(client RedisClient, prefix string, logger *logrus.Logger) *RedisPublisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisPublisher{
		client:       client,
		quoteChannel: prefix + ":quotes",
		tradeChannel: prefix + ":trades",
		logger:       logger,
	}
}

// Run subscribes to pub and mirrors every update to Redis until quotes and
// trades are both closed. Publish failures are logged and otherwise
// ignored: a down Redis instance must never stall the book.
func (r *RedisPublisher) Run(ctx context.Context, pub *Publisher) {
	quotes := pub.SubscribeQuotes()
	trades := pub.SubscribeTrades()

	go func() {
		for q := range quotes {
			r.publish(ctx, r.quoteChannel, q)
		}
	}()
	go func() {
		for t := range trades {
			r.publish(ctx, r.tradeChannel, t)
		}
	}()
}

func (r *RedisPublisher) publish(ctx context.Context, channel string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.WithError(err).Error("marketdata: failed to marshal redis payload")
		return
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		r.logger.WithError(err).Warn("marketdata: redis publish failed")
	}
}
