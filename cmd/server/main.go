package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/babelchat/relay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found, using environment variables")
	}

	cfg := server.NewConfigFromEnv()
	registry := server.NewRegistry()
	hub := server.NewHub(cfg, registry)
	monitor := server.NewMonitor(registry, cfg.HeartbeatInterval)

	go hub.Run()

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go monitor.Run(monitorCtx)

	httpServer := server.CreateServer(cfg.Port, server.NewRouter(hub))

	errCh := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server failed to start: %v", err)
	case sig := <-quit:
		log.Printf("Received signal %s, shutting down", sig)
	}

	stopMonitor()
	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		log.Printf("Hub shutdown error: %v", err)
	}
}
