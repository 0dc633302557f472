package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"studylock/internal/constants"
)

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name   string
		window time.Duration
		want   int
	}{
		{name: "zero", window: 0, want: 1},
		{name: "negative", window: -time.Second, want: 1},
		{name: "fractional_rounds_up", window: 1500 * time.Millisecond, want: 2},
		{name: "whole_second", window: time.Second, want: 1},
		{name: "minute", window: time.Minute, want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterSeconds(tt.window); got != tt.want {
				t.Fatalf("retryAfterSeconds(%s) = %d, want %d", tt.window, got, tt.want)
			}
		})
	}
}

func TestRateLimitKeysOnResolvedClientIP(t *testing.T) {
	resolver, err := NewClientIPResolver(nil)
	if err != nil {
		t.Fatalf("NewClientIPResolver error: %v", err)
	}
	handler := rateLimit(resolver, 2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil)
		req.RemoteAddr = remoteAddr
		// Ignored: the peer is not a trusted proxy.
		req.Header.Set("X-Forwarded-For", "198.51.100.99")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := send("203.0.113.7:1000"); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want %d", i+1, rr.Code, http.StatusOK)
		}
	}

	rr := send("203.0.113.7:2000")
	expectErrorCode(t, rr, http.StatusTooManyRequests, constants.ErrCodeRateLimited)
	if got := rr.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After = %q, want %q", got, "60")
	}

	if rr := send("203.0.113.8:1000"); rr.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want %d", rr.Code, http.StatusOK)
	}
}
