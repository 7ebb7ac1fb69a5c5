package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kekpa/swap-core/internal/connectivity"
)

func TestProbeWithoutBackendStaysOffline(t *testing.T) {
	probe := probeFor("")
	if got := probe(context.Background()); got != connectivity.Offline {
		t.Errorf("probe = %s, want %s", got, connectivity.Offline)
	}
}

func TestProbeHealthyBackendReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	probe := probeFor(srv.URL)
	if got := probe(context.Background()); got != connectivity.OnlineReachable {
		t.Errorf("probe = %s, want %s", got, connectivity.OnlineReachable)
	}
}

func TestProbeFailingBackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	probe := probeFor(srv.URL)
	if got := probe(context.Background()); got != connectivity.OnlineUnreachable {
		t.Errorf("probe = %s, want %s", got, connectivity.OnlineUnreachable)
	}
}

func TestProbeDialFailureMeansOffline(t *testing.T) {
	// Grab an address nothing listens on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	probe := probeFor(url)
	if got := probe(context.Background()); got != connectivity.Offline {
		t.Errorf("probe = %s, want %s", got, connectivity.Offline)
	}
}
