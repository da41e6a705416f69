package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/delivery"
)

func testSession() *analytics.Session {
	return analytics.NewSession(time.Date(2024, 2, 2, 10, 0, 0, 0, time.UTC), 5, "", "10.9.8.7")
}

func TestHTTPGatewayPostsReport(t *testing.T) {
	var got delivery.Report
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, HTTPOptions{Timeout: time.Second}, zap.NewNop())
	if err := g.Deliver(context.Background(), testSession()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got.IP != "10.9.8.7" || got.ID == "" {
		t.Errorf("collector received %+v", got)
	}
}

func TestHTTPGatewayStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, HTTPOptions{Timeout: time.Second}, zap.NewNop())
	err := g.Deliver(context.Background(), testSession())

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if se.Code != http.StatusTooManyRequests || se.RetryAfter != 7*time.Second {
		t.Errorf("StatusError = %+v", se)
	}
}

func TestHTTPGatewayDoesNotRetryAndOpensBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, HTTPOptions{Timeout: time.Second, CBTimeout: time.Minute}, zap.NewNop())
	for i := 0; i < 6; i++ {
		if err := g.Deliver(context.Background(), testSession()); err == nil {
			t.Fatal("expected delivery failure")
		}
	}
	if calls.Load() != 6 {
		t.Fatalf("collector called %d times, want exactly one call per delivery", calls.Load())
	}

	err := g.Deliver(context.Background(), testSession())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want open breaker", err)
	}
	if calls.Load() != 6 {
		t.Error("open breaker must not reach the collector")
	}
}

func TestHTTPGatewayRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	g := NewHTTPGateway(srv.URL, HTTPOptions{Timeout: time.Second, RateLimit: 0.001, Burst: 1}, zap.NewNop())
	if err := g.Deliver(context.Background(), testSession()); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := g.Deliver(context.Background(), testSession()); err == nil {
		t.Error("second delivery must be dropped by the limiter")
	}
}
