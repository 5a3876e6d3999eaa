package trace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewIDUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Error("ids should be unique")
	}
	if len(a) != 32 {
		t.Errorf("id length = %d, want 32 hex chars", len(a))
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), "abc123")
	if got := FromContext(ctx); got != "abc123" {
		t.Errorf("FromContext = %q, want %q", got, "abc123")
	}
	if got := FromContext(context.Background()); got != "" {
		t.Errorf("FromContext on empty ctx = %q, want empty", got)
	}
}

func TestEnsureContext(t *testing.T) {
	ctx, id := EnsureContext(context.Background())
	if id == "" {
		t.Fatal("EnsureContext should create an id")
	}
	ctx2, id2 := EnsureContext(ctx)
	if id2 != id {
		t.Errorf("EnsureContext replaced existing id: %q != %q", id2, id)
	}
	if ctx2 != ctx {
		t.Error("EnsureContext should return same ctx when id present")
	}
}

func TestMiddleware(t *testing.T) {
	var seen string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	t.Run("generates id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if seen == "" {
			t.Error("handler should see a trace id")
		}
		if rec.Header().Get(HeaderKey) != seen {
			t.Error("response header should echo the trace id")
		}
	})

	t.Run("honors inbound header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set(HeaderKey, "inbound-id")
		h.ServeHTTP(httptest.NewRecorder(), req)
		if seen != "inbound-id" {
			t.Errorf("trace id = %q, want inbound-id", seen)
		}
	})
}
