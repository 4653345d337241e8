package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"storyloom/server/internal/app"
	"storyloom/server/internal/channel"
	servernet "storyloom/server/internal/net"
	"storyloom/server/internal/net/ws"
	"storyloom/server/internal/snapshot"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.ParseConfig()
	if err != nil {
		return err
	}

	router, err := app.NewLogRouter(cfg)
	if err != nil {
		return err
	}
	defer router.Close(context.Background())

	snapshots, err := snapshot.Open(cfg.SnapshotDB)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	store := channel.NewMemoryStore()
	registry := app.NewRegistry(store, snapshots, router)
	defer registry.Close()

	wsHandler := ws.NewHandler(store, ws.HandlerConfig{Logger: log.Default()})
	handler := servernet.NewHTTPHandler(registry, snapshots, wsHandler, servernet.HTTPHandlerConfig{
		Logger: log.Default(),
	})

	return app.Serve(ctx, cfg.Addr, handler, log.Default(), cfg.Shutdown)
}
