// Command hub hosts the realtime store for local development and testing:
// the websocket sync endpoint plus prometheus metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/config"
	"github.com/chrisackermannn/ascendr-sub001/internal/store/memory"
	"github.com/chrisackermannn/ascendr-sub001/internal/store/ws"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load("hub")
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	backing := memory.New()
	hub := ws.NewHub(backing, logger.Named("hub"))

	mux := http.NewServeMux()
	mux.Handle("/sync", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: cfg.HubAddress, Handler: mux}
	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("hub listening", zap.String("addr", cfg.HubAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("hub server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	_ = metricsSrv.Shutdown(ctx)
	hub.Close()
	backing.Close()
}
