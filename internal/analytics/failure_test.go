package analytics

import (
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func explode() {
	panic("boom")
}

func makeTracedError() error {
	return errors.New("traced")
}

func recoverFailure(fn func()) (f *Failure) {
	defer func() {
		if v := recover(); v != nil {
			f = CapturePanic(v, t0)
		}
	}()
	fn()
	return nil
}

func TestCapturePanicOrigin(t *testing.T) {
	f := recoverFailure(explode)
	if f == nil {
		t.Fatal("expected a captured failure")
	}
	if f.Origin == nil {
		t.Fatal("panic must carry an origin frame")
	}
	if !strings.HasSuffix(f.Origin.Function, ".explode") {
		t.Errorf("origin function = %q, want *.explode", f.Origin.Function)
	}
	if !strings.HasSuffix(f.Origin.File, "failure_test.go") {
		t.Errorf("origin file = %q", f.Origin.File)
	}
	if f.Origin.Line == 0 {
		t.Error("origin line must be set")
	}
	if !strings.Contains(f.Message, "boom") {
		t.Errorf("message = %q", f.Message)
	}
	if !strings.HasPrefix(f.Trace, f.Message+"\n") {
		t.Errorf("trace must start with the message:\n%s", f.Trace)
	}
	if !f.Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v", f.Timestamp)
	}
}

func TestCapturePanicKeepsErrorValue(t *testing.T) {
	sentinel := stderrors.New("sentinel")
	f := recoverFailure(func() { panic(sentinel) })
	if f.Err != sentinel {
		t.Errorf("Err = %v, want the panicked error", f.Err)
	}
}

func TestCaptureErrorWithoutStack(t *testing.T) {
	f := CaptureError(stderrors.New("plain"), t0)
	if f.Origin != nil {
		t.Errorf("plain error has no frames, got origin %+v", f.Origin)
	}
	if f.Trace != f.Message+"\n" {
		t.Errorf("trace = %q", f.Trace)
	}
}

func TestCaptureErrorWithPkgErrorsStack(t *testing.T) {
	f := CaptureError(errors.Wrap(makeTracedError(), "context"), time.Now())
	if f.Origin == nil {
		t.Fatal("pkg/errors error must yield an origin frame")
	}
	if !strings.HasSuffix(f.Origin.Function, ".makeTracedError") {
		t.Errorf("origin function = %q, want *.makeTracedError", f.Origin.Function)
	}
	if !strings.Contains(f.Trace, "makeTracedError") {
		t.Errorf("trace misses origin:\n%s", f.Trace)
	}
}
