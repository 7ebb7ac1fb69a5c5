package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"time"

	"github.com/kekpa/swap-core/internal/connectivity"
	"github.com/kekpa/swap-core/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	dataDir := flag.String("data-dir", "", "profile directory (overrides default)")
	backend := flag.String("backend", "", "backend base URL used for reachability probing")
	flag.Parse()

	app := fx.New(
		daemon.Module(
			daemon.Params{DataDir: *dataDir},
			daemon.Remote{Probe: probeFor(*backend)},
		),
	)

	app.Run()
}

// probeFor builds a reachability probe against the backend's health
// endpoint. Without a backend the daemon runs local-only and stays offline.
func probeFor(base string) connectivity.Probe {
	if base == "" {
		return func(context.Context) connectivity.State {
			return connectivity.Offline
		}
	}
	client := &http.Client{Timeout: 5 * time.Second}
	url := base + "/health"
	return func(ctx context.Context) connectivity.State {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return connectivity.OnlineUnreachable
		}
		resp, err := client.Do(req)
		if err != nil {
			// A dial-level failure (no route, interface down, refused)
			// means no usable network, not a struggling backend.
			var opErr *net.OpError
			if errors.As(err, &opErr) && opErr.Op == "dial" {
				return connectivity.Offline
			}
			return connectivity.OnlineUnreachable
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 500 {
			return connectivity.OnlineUnreachable
		}
		return connectivity.OnlineReachable
	}
}
