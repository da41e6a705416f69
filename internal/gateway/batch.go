package gateway

import (
	"context"
	"time"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/delivery"
)

// BatchGateway кладет отчет в асинхронный Batcher (запись в Postgres пачками).
type BatchGateway struct {
	batcher *delivery.Batcher
	now     func() time.Time
}

func NewBatchGateway(b *delivery.Batcher) *BatchGateway {
	return &BatchGateway{batcher: b, now: time.Now}
}

func (g *BatchGateway) Deliver(_ context.Context, s *analytics.Session) error {
	rep, err := delivery.NewReport(s, g.now())
	if err != nil {
		return err
	}
	return g.batcher.Enqueue(rep)
}
