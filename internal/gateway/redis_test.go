package gateway

import (
	"context"
	"encoding/json"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xela07ax/reqtrail/internal/delivery"
)

type publishRecorder struct {
	goredis.Cmdable
	channel   string
	payload   []byte
	receivers int64
}

func (p *publishRecorder) Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd {
	p.channel = channel
	p.payload = message.([]byte)
	cmd := goredis.NewIntCmd(ctx, "publish", channel)
	cmd.SetVal(p.receivers)
	return cmd
}

func TestRedisGatewayPublishesReport(t *testing.T) {
	rec := &publishRecorder{receivers: 1}
	g := NewRedisGateway(rec, "reqtrail:reports", zap.NewNop())

	if err := g.Deliver(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	if rec.channel != "reqtrail:reports" {
		t.Errorf("channel = %q", rec.channel)
	}
	var rep delivery.Report
	if err := json.Unmarshal(rec.payload, &rep); err != nil {
		t.Fatalf("payload is not a report: %v", err)
	}
	if err := rep.Validate(); err != nil {
		t.Errorf("published report invalid: %v", err)
	}
}

func TestRedisGatewayWarnsWithoutSubscribers(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	g := NewRedisGateway(&publishRecorder{}, "reqtrail:reports", zap.New(core))

	if err := g.Deliver(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	if logs.FilterMessage("report published without subscribers").Len() != 1 {
		t.Error("lost report must be logged")
	}
}
