package collector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/reqtrail/internal/delivery"
)

// Subscriber — то, что нужно от redis-клиента для подписки.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// ListenReports — "живучая" подписка на канал отчетов RedisGateway.
// Переподключается сама и возвращается только по отмене ctx.
func ListenReports(ctx context.Context, rdb Subscriber, channel string, sink Sink, logger *zap.Logger) {
	logger = logger.Named("collector-redis")

	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleepCtx(ctx, 5*time.Second) {
				return
			}
			continue
		}
		logger.Info("subscribed", zap.String("chan", channel))

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				handleMessage(msg.Payload, sink, logger)
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func handleMessage(payload string, sink Sink, logger *zap.Logger) {
	var rep delivery.Report
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		logger.Error("invalid report payload", zap.Error(err))
		return
	}
	if err := accept(sink, rep); err != nil {
		logger.Error("report rejected", zap.String("id", rep.ID), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
