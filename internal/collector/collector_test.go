package collector

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/reqtrail/internal/analytics"
	"github.com/xela07ax/reqtrail/internal/delivery"
	"github.com/xela07ax/reqtrail/internal/gateway"
)

type memorySink struct {
	mu      sync.Mutex
	reports []delivery.Report
	err     error
}

func (s *memorySink) Enqueue(rep delivery.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reports = append(s.reports, rep)
	return nil
}

func (s *memorySink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}

func failingSession() *analytics.Session {
	t0 := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	s := analytics.NewSession(t0, 10, "https://ref.example/", "192.0.2.10")

	rec := analytics.NewRecord(t0, http.MethodGet, "http://shop.example/app/widgets/7", "", nil, "rev-1")
	f := analytics.CaptureError(context.DeadlineExceeded, t0.Add(time.Second))
	_ = rec.Close(http.StatusInternalServerError, t0.Add(time.Second), f)
	s.AppendHistory(rec)
	return s
}

func TestServer_AcceptsHTTPGatewayReport(t *testing.T) {
	sink := &memorySink{}
	srv := httptest.NewServer(NewServer(sink, zap.NewNop()))
	defer srv.Close()

	g := gateway.NewHTTPGateway(srv.URL+"/v1/reports", gateway.HTTPOptions{Timeout: time.Second}, zap.NewNop())
	if err := g.Deliver(context.Background(), failingSession()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if sink.len() != 1 {
		t.Fatalf("expected 1 report, got %d", sink.len())
	}
	rep := sink.reports[0]
	if rep.IP != "192.0.2.10" || rep.FailureCount != 1 || rep.HistorySize != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
	if !strings.Contains(rep.Text, "Last Exception") {
		t.Errorf("report text lost the failure section")
	}
}

func TestServer_RejectsBadReports(t *testing.T) {
	sink := &memorySink{}
	h := NewServer(sink, zap.NewNop())

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"id":`, http.StatusBadRequest},
		{"bad id", `{"id":"nope","text":"x"}`, http.StatusBadRequest},
		{"empty text", `{"id":"6f1c2a8e-0000-4000-8000-000000000001"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(tc.body)))
			if rr.Code != tc.want {
				t.Errorf("status %d, want %d", rr.Code, tc.want)
			}
		})
	}
	if sink.len() != 0 {
		t.Errorf("invalid reports must not reach the sink")
	}
}

func TestServer_OverflowIsRetryable(t *testing.T) {
	sink := &memorySink{err: delivery.ErrOverflow}
	h := NewServer(sink, zap.NewNop())

	rr := httptest.NewRecorder()
	body := `{"id":"6f1c2a8e-0000-4000-8000-000000000001","text":"report"}`
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/reports", strings.NewReader(body)))

	if rr.Code != http.StatusServiceUnavailable || rr.Header().Get("Retry-After") == "" {
		t.Errorf("expected 503 with Retry-After, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
	}
}

func TestServer_Health(t *testing.T) {
	rr := httptest.NewRecorder()
	NewServer(&memorySink{}, zap.NewNop()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("health status %d", rr.Code)
	}
}

func dialCollector(t *testing.T, sink Sink) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(grpc.UnaryInterceptor(UnaryLoggingInterceptor(zap.NewNop())))
	RegisterGRPCServer(srv, NewGRPCServer(sink, zap.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPC_GatewayRoundTrip(t *testing.T) {
	sink := &memorySink{}
	conn := dialCollector(t, sink)

	g := gateway.NewGRPCGateway(conn, 2*time.Second, zap.NewNop())
	if err := g.Deliver(context.Background(), failingSession()); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if sink.len() != 1 {
		t.Fatalf("expected 1 report, got %d", sink.len())
	}
	rep := sink.reports[0]
	if rep.Referer != "https://ref.example/" || rep.LastFailure == "" {
		t.Errorf("unexpected report %+v", rep)
	}
	if len(rep.Session) == 0 {
		t.Error("session payload lost in transit")
	}
}

func TestGRPC_InvalidReport(t *testing.T) {
	conn := dialCollector(t, &memorySink{})

	req, err := structpb.NewStruct(map[string]interface{}{"id": "not-a-uuid"})
	if err != nil {
		t.Fatal(err)
	}
	err = conn.Invoke(context.Background(), delivery.DeliverFullMethod, req, &emptypb.Empty{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument, got %v", err)
	}
}

func TestGRPC_Overflow(t *testing.T) {
	conn := dialCollector(t, &memorySink{err: delivery.ErrOverflow})

	rep, err := delivery.NewReport(failingSession(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	req, err := delivery.ToStruct(rep)
	if err != nil {
		t.Fatal(err)
	}
	err = conn.Invoke(context.Background(), delivery.DeliverFullMethod, req, &emptypb.Empty{})
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("expected ResourceExhausted, got %v", err)
	}
}

func TestHandleMessage(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	logger := zap.New(core)
	sink := &memorySink{}

	handleMessage(`{"id":"6f1c2a8e-0000-4000-8000-000000000001","text":"report"}`, sink, logger)
	handleMessage(`garbage`, sink, logger)
	handleMessage(`{"id":"x","text":"report"}`, sink, logger)

	if sink.len() != 1 {
		t.Errorf("expected 1 accepted report, got %d", sink.len())
	}
	if logs.FilterMessage("invalid report payload").Len() != 1 {
		t.Error("expected malformed payload to be logged")
	}
	if logs.FilterMessage("report rejected").Len() != 1 {
		t.Error("expected invalid report to be logged")
	}
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Error("sleepCtx must return false on cancelled context")
	}
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Error("sleepCtx must return true after the delay")
	}
}
