package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"whatsapp-relay/handler"
	"whatsapp-relay/internal/app"
	"whatsapp-relay/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	// ---- Components ----
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build relay", "err", err)
		os.Exit(1)
	}
	// State lives as long as the warm execution environment; the sweeper only
	// runs while it is thawed.
	a.Sweeper.Start()

	// ---- Handler ----
	opts := []handler.Option{handler.WithAdminToken(cfg.AdminToken)}
	if a.Transcripts != nil {
		opts = append(opts, handler.WithTranscripts(a.Transcripts))
	}
	h, err := handler.NewHandler(a.Relay, a.Dispatcher, opts...)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
