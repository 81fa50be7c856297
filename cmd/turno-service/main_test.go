package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"qms/turno-service/internal/httpapi"
)

func TestNewServerHandlerRoutes(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	realtime := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{PerMinute: 600, Burst: 10})
	handler := newServerHandler(api, realtime, limiter)

	tests := []struct {
		path string
		want int
	}{
		{"/realtime/info", http.StatusAccepted},
		{"/api/v1/queue/global", http.StatusTeapot},
		{"/healthz", http.StatusTeapot},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.Code)
			}
		})
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	if err := run([]string{"--no-such-flag"}); err == nil {
		t.Fatalf("expected flag error")
	}
}
