package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"weather-pipeline/internal/app"
	"weather-pipeline/internal/handlers"
	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "Serve weather observations and yearly statistics over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	a, err := app.Load(configPath, "weather-api")
	if err != nil {
		return err
	}
	cfg := a.Config
	logger := a.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[STARTUP] Starting weather API server", logging.Fields{
		"version":      app.Version,
		"address":      cfg.Address(),
		"db_driver":    cfg.Database.Driver,
		"cache":        cfg.Cache.Enabled,
		"rate_limit":   cfg.API.RateLimit,
		"max_per_page": cfg.API.MaxPerPage,
	})

	db, err := a.OpenStore(ctx)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	var resultCache services.ResultCache
	qc, err := a.DialCache(ctx)
	if err != nil {
		logger.Warn(ctx, "[STARTUP] Query cache unavailable, serving from store", logging.Fields{"error": err.Error()})
	} else if qc != nil {
		defer qc.Close()
		resultCache = qc
	}

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      newHandler(a, db, resultCache),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return serve(ctx, server, ln, logger)
}

// newHandler wires the API routes and the Prometheus endpoint over db
func newHandler(a *app.App, db *database.DB, resultCache services.ResultCache) http.Handler {
	repo := repository.NewWeatherRepository(db, a.Logger, a.Metrics)
	queryService := services.NewQueryService(repo, resultCache, a.QueryConfig(), a.Logger, a.Metrics)
	weatherHandler := handlers.NewWeatherHandler(queryService, a.Logger, a.Metrics)

	router := handlers.NewRouter(weatherHandler, a.Config.API.RateLimit, a.Config.API.RateBurst, a.Metrics, a.Logger)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

// serve runs server on ln until ctx is cancelled, then shuts it down gracefully
func serve(ctx context.Context, server *http.Server, ln net.Listener, logger *logging.StructuredLogger) error {
	serveErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{"address": ln.Addr().String()})
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
		return err
	}

	logger.Info(shutdownCtx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
	return nil
}
