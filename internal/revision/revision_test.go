package revision

import (
	"net/http/httptest"
	"testing"
)

func TestStatic(t *testing.T) {
	if _, ok := Static("").Resolve(nil); ok {
		t.Error("empty revision must be absent")
	}
	if rev, ok := Static("9f1c2ab").Resolve(nil); !ok || rev != "9f1c2ab" {
		t.Errorf("Resolve() = %q, %v", rev, ok)
	}
}

func TestHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Source-Revision", "r123")
	if rev, ok := Header("X-Source-Revision").Resolve(r); !ok || rev != "r123" {
		t.Errorf("Resolve() = %q, %v", rev, ok)
	}
}
