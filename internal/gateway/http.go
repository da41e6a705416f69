package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/delivery"
)

type HTTPOptions struct {
	Timeout   time.Duration
	RateLimit float64
	Burst     int

	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration

	// BreakerState — необязательный gauge: 0 closed, 1 open, 0.5 half-open
	BreakerState prometheus.Gauge
}

// HTTPGateway отправляет отчет POST-ом в коллектор.
// Доставка best-effort и не более одного раза: повторов нет, при серии
// отказов Circuit Breaker перестает дергать коллектор.
type HTTPGateway struct {
	url     string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time
}

func NewHTTPGateway(url string, opts HTTPOptions, logger *zap.Logger) *HTTPGateway {
	logger = logger.Named("http-gateway")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reqtrail-collector",
		MaxRequests: opts.CBMaxRequests,
		Interval:    opts.CBInterval,
		Timeout:     opts.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if opts.BreakerState != nil {
				opts.BreakerState.Set(breakerValue(to))
			}
		},
	})

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &HTTPGateway{
		url:     url,
		client:  &http.Client{Timeout: opts.Timeout},
		cb:      cb,
		limiter: rate.NewLimiter(limit, max(opts.Burst, 1)),
		logger:  logger,
		now:     time.Now,
	}
}

func (g *HTTPGateway) Deliver(ctx context.Context, s *analytics.Session) error {
	rep, err := delivery.NewReport(s, g.now())
	if err != nil {
		return err
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	// не ждем токен: отчет в горячем пути запроса, лишний просто отбрасываем
	if !g.limiter.Allow() {
		return fmt.Errorf("report %s dropped: rate limit exceeded", rep.ID)
	}

	_, err = g.cb.Execute(func() (interface{}, error) {
		return nil, g.post(ctx, body)
	})
	if err != nil {
		return fmt.Errorf("deliver report %s: %w", rep.ID, err)
	}

	g.logger.Debug("report delivered", zap.String("id", rep.ID))
	return nil
}

func (g *HTTPGateway) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		se := &StatusError{Code: resp.StatusCode}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			se.RetryAfter = time.Duration(secs) * time.Second
		}
		return se
	}
	return nil
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
