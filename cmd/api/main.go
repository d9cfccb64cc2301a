package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	api "document-pipeline/internal/api"
	"document-pipeline/internal/app"
	"document-pipeline/internal/config"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	deps, err := app.Bootstrap(ctx, config.RoleAPI)
	if err != nil {
		log.Fatalf("api: %v", err)
	}
	defer deps.Close()
	logger := deps.Logger

	server := api.New(deps.Ledger, deps.Analysis, logger)
	httpServer := &http.Server{
		Addr:              ":" + deps.Config.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("api listening", zap.String("port", deps.Config.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = logger.Sync()
}
