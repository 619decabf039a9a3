// Command libctl runs maintenance tasks against the lending database:
// seeding the catalog, sweeping loans outside a live session and minting
// session tokens for local testing.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"library-lending/pkg/app"
	"library-lending/pkg/config"
)

// opener returns a ready App and a function that releases it.
type opener func(ctx context.Context) (*app.App, func(), error)

func openFromEnv(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	a, err := app.Open(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(context.Background()); err != nil {
			log.Printf("[libctl] close: %v", err)
		}
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openFromEnv).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
