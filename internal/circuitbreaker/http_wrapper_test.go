package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestHTTPWrapper_ServerErrorsTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	settings := CompletionSettings()
	settings.FailureThreshold = 2
	hw := NewHTTPWrapper(srv.Client(), "upstream-5xx", "test", settings, zaptest.NewLogger(t))

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		if err != nil {
			t.Fatalf("Expected 5xx response without error, got %v", err)
		}
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("Expected 502, got %d", resp.StatusCode)
		}
		resp.Body.Close()
	}

	if hw.Breaker().State() != StateOpen {
		t.Fatalf("Expected breaker open after repeated 5xx, got %s", hw.Breaker().State())
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
	if _, err := hw.Do(req); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected open breaker error, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("Expected 2 upstream hits, got %d", hits.Load())
	}
}

func TestHTTPWrapper_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	settings := CompletionSettings()
	settings.FailureThreshold = 1
	hw := NewHTTPWrapper(srv.Client(), "upstream-4xx", "test", settings, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
		resp, err := hw.Do(req)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		resp.Body.Close()
	}
	if hw.Breaker().State() != StateClosed {
		t.Errorf("Expected breaker closed on 4xx, got %s", hw.Breaker().State())
	}
}
