package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"whatsapp-relay/internal/app"
	"whatsapp-relay/internal/config"
	"whatsapp-relay/internal/server"
)

const shutdownTimeout = 10 * time.Second

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var port int

	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Port = port
			}
			logger := app.NewLogger(os.Stdout, cfg.LogLevel)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			opts := []server.Option{
				server.WithLogger(logger),
				server.WithMetricsHandler(a.Metrics.Handler()),
				server.WithAdminToken(cfg.AdminToken),
			}
			if a.Transcripts != nil {
				opts = append(opts, server.WithTranscripts(a.Transcripts))
			}
			h, err := server.NewHandler(a.Relay, a.Dispatcher, opts...)
			if err != nil {
				return err
			}
			e := server.New(h, logger)

			a.Sweeper.Start()

			errCh := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				logger.Info("webhook server listening", slog.String("addr", addr))
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case serveErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown failed", slog.Any("err", err))
			}
			if err := h.Wait(shutdownCtx); err != nil {
				logger.Warn("in-flight webhook batches abandoned", slog.Any("err", err))
			}
			a.Sweeper.Stop(shutdownCtx)
			logger.Info("relay stopped")
			return serveErr
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides PORT)")
	return command
}

func chatCmd() *cobra.Command {
	var from string

	command := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send messages through a local relay and print the replies",
		Long: `chat runs each argument through the same pipeline a webhook message takes,
without delivering anything to WhatsApp. With no arguments, lines are read
from standard input until EOF.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := app.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)

			a, err := app.Build(cmd.Context(), cfg, logger, app.WithoutDelivery())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) > 0 {
				for i, text := range args {
					chatTurn(cmd.Context(), out, a, from, i, text)
				}
				return nil
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for i := 0; scanner.Scan(); i++ {
				chatTurn(cmd.Context(), out, a, from, i, scanner.Text())
			}
			return scanner.Err()
		},
	}

	command.Flags().StringVar(&from, "from", "385912395365", "sender phone number")
	return command
}

func chatTurn(ctx context.Context, out io.Writer, a *app.App, from string, i int, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	messageID := fmt.Sprintf("chat-%d-%d", time.Now().UnixNano(), i)
	res := a.Relay.Handle(ctx, from, messageID, text)

	fmt.Fprintf(out, "You: %s\n", text)
	if res.HasReply() {
		fmt.Fprintf(out, "Bot: %s\n", res.Reply)
	} else {
		fmt.Fprintf(out, "(no reply: %s)\n", res.Outcome)
	}
	fmt.Fprintln(out)
}
