package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/delivery"
)

// RedisGateway публикует отчет в Pub/Sub канал; коллектор на нем подписан.
type RedisGateway struct {
	rdb     goredis.Cmdable
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

func NewRedisGateway(rdb goredis.Cmdable, channel string, logger *zap.Logger) *RedisGateway {
	return &RedisGateway{
		rdb:     rdb,
		channel: channel,
		logger:  logger.Named("redis-gateway"),
		now:     time.Now,
	}
}

func (g *RedisGateway) Deliver(ctx context.Context, s *analytics.Session) error {
	rep, err := delivery.NewReport(s, g.now())
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	receivers, err := g.rdb.Publish(ctx, g.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("publish report %s: %w", rep.ID, err)
	}
	if receivers == 0 {
		// Pub/Sub не хранит сообщения: без подписчиков отчет потерян
		g.logger.Warn("report published without subscribers", zap.String("id", rep.ID), zap.String("channel", g.channel))
	}
	return nil
}
