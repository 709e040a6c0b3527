package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Tyrowin/boardcall/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	server.SetConfig(server.NewConfigFromEnv())
	cfg := server.CurrentConfig()

	logger, err := server.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		logger.WithError(err).Warn("Falling back to default logging settings")
	}
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())
	logrus.SetFormatter(logger.Formatter)

	logger.WithFields(logrus.Fields{
		"port":          cfg.Port,
		"origins":       cfg.AllowedOrigins,
		"ringTimeout":   cfg.Calls.RingTimeout,
		"evictionDelay": cfg.Calls.EvictionDelay,
	}).Info("Starting boardcall signaling server")

	hub := server.NewHub(logger)
	go hub.Run()

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	select {
	case err := <-serveErr:
		_ = hub.Shutdown(cfg.ShutdownTimeout)
		if err != nil {
			logger.WithError(err).Error("Server stopped unexpectedly")
			return 1
		}
		return 0
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	code := 0
	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout); err != nil {
		code = 1
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.WithError(err).Error("Hub shutdown incomplete")
		code = 1
	}
	return code
}
