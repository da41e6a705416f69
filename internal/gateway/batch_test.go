package gateway

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/xela07ax/reqtrail/internal/delivery"
)

type captureStorage struct {
	mu      sync.Mutex
	reports []delivery.Report
}

func (c *captureStorage) WriteBatch(_ context.Context, reports []delivery.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, reports...)
	return nil
}

func TestBatchGatewayEnqueues(t *testing.T) {
	store := &captureStorage{}
	b := delivery.NewBatcher(store, delivery.BatcherOptions{}, zap.NewNop())
	b.Start()

	g := NewBatchGateway(b)
	if err := g.Deliver(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	b.Stop()

	if len(store.reports) != 1 || store.reports[0].IP != "10.9.8.7" {
		t.Errorf("stored %+v", store.reports)
	}
}
