package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogPreservesStatus(t *testing.T) {
	h := WithRequestID(WithRequestLog("chat", nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status to pass through, got %d", rec.Code)
	}
}

func TestStatusRecorderHijackRequiresHijacker(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatalf("expected hijack to fail on a non-hijacking writer")
	}
}
