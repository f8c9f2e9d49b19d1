package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Biomine3000/Objectoplex/internal/broker"
	"github.com/Biomine3000/Objectoplex/internal/config"
	"github.com/Biomine3000/Objectoplex/internal/middleware"
	"github.com/Biomine3000/Objectoplex/internal/routing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}))

	r := routing.New(logger, "")

	chain := middleware.NewChain(
		logger,
		middleware.NewPingPong(),
		middleware.NewLegacySubscription(),
		middleware.NewStatistics(),
		middleware.NewChecksum(),
		r,
	)

	b := broker.New(broker.Config{
		Bind:         cfg.Bind,
		Peers:        cfg.Peers,
		Chain:        chain,
		OwnRoutingID: r.OwnRoutingID,
		Logger:       logger,
	})

	if err := b.Start(); err != nil {
		logger.Error("broker failed to start", "error", err)
		os.Exit(1)
	}

	if cfg.DiscoveryPort > 0 {
		if err := b.EnableDiscovery(cfg.DiscoveryPort); err != nil {
			logger.Warn("mDNS discovery disabled", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutting down")
	b.Shutdown()
	logger.Info("broker stopped cleanly")
}

func logLevel(level string) slog.Leveler {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	lv := new(slog.LevelVar)
	lv.Set(lvl)
	return lv
}
