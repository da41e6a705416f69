package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

// WaitReady пингует зависимость при старте с экспоненциальным бэкоффом.
// Redis и Postgres в docker-compose поднимаются дольше сервиса.
func WaitReady(ctx context.Context, logger *zap.Logger, name string, ping func(ctx context.Context) error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("dependency not ready", zap.String("dep", name), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)

	err := r.Do(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return ping(pingCtx)
	})
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	logger.Info("dependency ready", zap.String("dep", name))
	return nil
}
