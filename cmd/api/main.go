package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/chat-relay/backend/internal/config"
	"github.com/zhouzirui/chat-relay/backend/internal/handler"
	"github.com/zhouzirui/chat-relay/backend/internal/logging"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/history"
	"github.com/zhouzirui/chat-relay/backend/internal/service/hub"
	"github.com/zhouzirui/chat-relay/backend/internal/service/presence"
	"github.com/zhouzirui/chat-relay/backend/internal/service/simulator"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Infof("no .env file loaded (%v), continuing with system environment variables only", err)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}
	logging.Setup(cfg.Log)

	store := history.NewStore(history.DefaultCapacity, chat.Seed()...)
	chatHub := hub.New(store, presence.NewTracker())
	go chatHub.Run(ctx)

	var sim *simulator.Simulator
	if cfg.Simulator.Enabled {
		sim = simulator.New(chatHub, simulator.DefaultConfig())
		sim.Start()
	} else {
		logrus.Info("activity simulator disabled by configuration")
	}

	router := handler.NewRouter(chatHub, store, cfg)

	serverErr := startServer(ctx, cfg.Server, router)

	if sim != nil {
		sim.Stop()
	}
	if err := chatHub.Shutdown(5 * time.Second); err != nil {
		logrus.WithError(err).Warn("hub did not stop cleanly")
	}
	if serverErr != nil {
		logrus.Fatalf("server error: %v", serverErr)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logrus.WithField("addr", serverCfg.Addr).Info("chat relay listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
