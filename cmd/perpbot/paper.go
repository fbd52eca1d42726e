package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/perpbot/config"
	"github.com/alejandrodnm/perpbot/internal/adapters/exchange"
	"github.com/alejandrodnm/perpbot/internal/adapters/notify"
	"github.com/alejandrodnm/perpbot/internal/application/engine/paper"
)

const statusInterval = 60 * time.Second

// runPaper drives the session until the context is canceled or a STOP
// file appears. The engine loop runs in its own goroutine; this one
// prints periodic status.
func runPaper(ctx context.Context, cfg *config.Config, engine *paper.Engine, notifier *notify.Console) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runEngine(ctx, cfg, engine)

	slog.Info("paper trading started, press Ctrl+C or create STOP file to exit")

	const stopFile = "STOP"
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("paper trading stopped (signal)")
			return
		case <-ticker.C:
			if _, err := os.Stat(stopFile); err == nil {
				slog.Info("STOP file detected, shutting down")
				os.Remove(stopFile)
				return
			}
			notifier.PrintStatus(engine.GetStatus())
		}
	}
}

// runEngine prefers the WebSocket stream when configured and falls back
// to REST polling when the stream is unavailable or closes.
func runEngine(ctx context.Context, cfg *config.Config, engine *paper.Engine) {
	if cfg.Exchange.UseWS {
		stream, err := exchange.NewTickStream(ctx, cfg.Exchange.WSBase, cfg.Paper.Instruments)
		if err == nil {
			defer stream.Close()
			if err := engine.RunStream(ctx, stream.Ticks()); err != nil {
				slog.Error("stream session exited", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
			slog.Warn("tick stream ended, falling back to REST polling")
		} else {
			slog.Warn("tick stream unavailable, falling back to REST polling", "err", err)
		}
	}
	if err := engine.Run(ctx); err != nil {
		slog.Error("session exited", "err", err)
	}
}
