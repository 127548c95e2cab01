package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentchat/server/internal/config"
	"github.com/agentchat/server/internal/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, continuing with process environment")
	}

	cfg := config.Get()
	srv := server.New(cfg)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("agentchat: received shutdown signal, draining connections")
		cancel()
	}()

	slog.Info("agentchat: starting", "addr", cfg.Addr(), "name", cfg.Server.Name)
	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("agentchat: server exited: %v", err)
	}

	srv.Stop()
	time.Sleep(100 * time.Millisecond)
	slog.Info("agentchat: stopped")
}
