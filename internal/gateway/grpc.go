package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/delivery"
)

// GRPCGateway вызывает reqtrail.v1.Collector/Deliver у коллектора.
type GRPCGateway struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewGRPCGateway(conn grpc.ClientConnInterface, timeout time.Duration, logger *zap.Logger) *GRPCGateway {
	return &GRPCGateway{
		conn:    conn,
		timeout: timeout,
		logger:  logger.Named("grpc-gateway"),
		now:     time.Now,
	}
}

func (g *GRPCGateway) Deliver(ctx context.Context, s *analytics.Session) error {
	rep, err := delivery.NewReport(s, g.now())
	if err != nil {
		return err
	}
	req, err := delivery.ToStruct(rep)
	if err != nil {
		return err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.conn.Invoke(ctx, delivery.DeliverFullMethod, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("collector call failed: %w", err)
	}
	g.logger.Debug("report delivered", zap.String("id", rep.ID))
	return nil
}
