package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDPropagatesOrGenerates(t *testing.T) {
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "kiosk-7-abc")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if got := resp.Header().Get("X-Request-Id"); got != "kiosk-7-abc" {
		t.Fatalf("expected caller id echoed, got %q", got)
	}

	for _, bad := range []string{"", "has space", strings.Repeat("x", maxRequestIDBytes+1)} {
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		if bad != "" {
			req.Header.Set("X-Request-Id", bad)
		}
		resp = httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		got := resp.Header().Get("X-Request-Id")
		if got == "" || got == bad {
			t.Fatalf("expected generated id for %q, got %q", bad, got)
		}
	}
}

func TestRecovererWritesInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "INTERNAL_ERROR") {
		t.Fatalf("expected error envelope, got %s", resp.Body.String())
	}
}

func TestLoggingRecorderFlushes(t *testing.T) {
	flushed := false
	handler := Logging(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Errorf("recorder should expose http.Flusher")
			return
		}
		_, _ = w.Write([]byte("data: 1\n\n"))
		f.Flush()
		flushed = true
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if !flushed || !resp.Flushed {
		t.Fatalf("expected the underlying writer to be flushed")
	}
}
