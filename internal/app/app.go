// Package app assembles the server: configuration from the environment, the
// logging router and its sinks, the snapshot store, the in-memory realtime
// store, the session registry, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log"
	nethttp "net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"storyloom/server/logging"
	loggingsinks "storyloom/server/logging/sinks"
)

// Config is loaded from the environment.
type Config struct {
	Addr        string        `env:"ADDR" envDefault:":8080"`
	SnapshotDB  string        `env:"SNAPSHOT_DB" envDefault:"storyloom.db"`
	LogSinks    []string      `env:"LOG_SINKS" envDefault:"console"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	LogJSONPath string        `env:"LOG_JSON_PATH" envDefault:""`
	LogColor    bool          `env:"LOG_COLOR" envDefault:"true"`
	Shutdown    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseConfig loads configuration from environment variables.
func ParseConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// NewLogRouter builds the logging router described by the config.
func NewLogRouter(cfg Config) (*logging.Router, error) {
	logCfg := logging.DefaultConfig()
	logCfg.EnabledSinks = cfg.LogSinks
	logCfg.MinimumSeverity = parseSeverity(cfg.LogLevel)
	logCfg.Console.UseColor = cfg.LogColor
	logCfg.JSON.FilePath = cfg.LogJSONPath

	var sinks []logging.NamedSink
	if logCfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{
			Name: "console",
			Sink: loggingsinks.NewConsoleSink(os.Stdout, logCfg.Console),
		})
	}
	if logCfg.HasSink("json") && logCfg.JSON.FilePath != "" {
		f, err := os.OpenFile(logCfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open json log: %w", err)
		}
		sinks = append(sinks, logging.NamedSink{
			Name: "json",
			Sink: loggingsinks.NewJSON(f, logCfg.JSON.FlushInterval),
		})
	}

	return logging.NewRouter(nil, logCfg, sinks)
}

func parseSeverity(level string) logging.Severity {
	switch level {
	case "debug":
		return logging.SeverityDebug
	case "warn":
		return logging.SeverityWarn
	case "error":
		return logging.SeverityError
	default:
		return logging.SeverityInfo
	}
}

// Serve runs the HTTP server until the context is canceled.
func Serve(ctx context.Context, addr string, handler nethttp.Handler, logger *log.Logger, shutdownTimeout time.Duration) error {
	srv := &nethttp.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != nethttp.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
