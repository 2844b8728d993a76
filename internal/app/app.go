// Package app wires the relay's components from configuration. Both the
// Lambda entrypoint and the relay CLI build through here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"whatsapp-relay/internal/config"
	"whatsapp-relay/internal/conversation"
	"whatsapp-relay/internal/dedup"
	"whatsapp-relay/internal/integrations/infobip"
	"whatsapp-relay/internal/integrations/openai"
	"whatsapp-relay/internal/integrations/paramstore"
	"whatsapp-relay/internal/metrics"
	"whatsapp-relay/internal/repository"
	"whatsapp-relay/internal/sweeper"
	"whatsapp-relay/internal/usecase"
	"whatsapp-relay/internal/webhook"
)

// App holds the long-lived components of one relay process.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Relay      *usecase.Relay
	Dispatcher *webhook.Dispatcher
	Sweeper    *sweeper.Sweeper

	// Transcripts is nil unless a transcript table is configured.
	Transcripts *repository.Client
}

type buildOptions struct {
	completer  usecase.Completer
	getter     paramstore.Getter
	noDelivery bool
}

type Option func(*buildOptions)

// WithCompleter replaces the OpenAI client.
func WithCompleter(c usecase.Completer) Option {
	return func(o *buildOptions) {
		o.completer = c
	}
}

// WithGetter replaces the secret source chosen from configuration.
func WithGetter(g paramstore.Getter) Option {
	return func(o *buildOptions) {
		o.getter = g
	}
}

// WithoutDelivery builds a dispatcher that computes replies but never sends
// them, for local runs without messaging credentials.
func WithoutDelivery() Option {
	return func(o *buildOptions) {
		o.noDelivery = true
	}
}

// NewLogger returns the process logger: JSON on w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	awsLoader := &lazyAWS{}

	getter := bo.getter
	if getter == nil {
		g, err := secretSource(ctx, cfg, awsLoader)
		if err != nil {
			return nil, err
		}
		getter = g
	}

	completer := bo.completer
	if completer == nil {
		c, err := newCompleter(cfg, getter)
		if err != nil {
			return nil, err
		}
		completer = c
	}

	m := metrics.New()

	relayOpts := []usecase.RelayOption{
		usecase.WithLogger(logger),
		usecase.WithRecorder(m),
	}
	var archive *repository.Client
	if cfg.TranscriptTable != "" {
		awsCfg, err := awsLoader.load(ctx)
		if err != nil {
			return nil, err
		}
		archive, err = repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TranscriptTable)
		if err != nil {
			return nil, fmt.Errorf("app: create transcript archive: %w", err)
		}
		relayOpts = append(relayOpts, usecase.WithTranscript(archive))
	}

	relay, err := usecase.NewRelay(
		completer,
		conversation.NewStore(conversation.WithHistoryCap(cfg.HistoryCap)),
		dedup.New(nil),
		usecase.RelayConfig{
			ContextWindow:   cfg.ContextWindow,
			ConversationTTL: cfg.ConversationTTL,
			DedupTTL:        cfg.DedupTTL,
			Strict:          cfg.Strict(),
		},
		relayOpts...,
	)
	if err != nil {
		return nil, fmt.Errorf("app: create relay: %w", err)
	}

	var sender webhook.Sender
	if !bo.noDelivery {
		s, err := infobip.NewClient(getter, cfg.InfobipKeyParam(), cfg.WhatsAppSender,
			infobip.WithBaseURL(cfg.InfobipBaseURL),
			infobip.WithNotifyURL(cfg.InfobipNotifyURL),
			infobip.WithLogger(logger.With(slog.String("component", "infobip"))),
		)
		if err != nil {
			return nil, fmt.Errorf("app: create infobip client: %w", err)
		}
		sender = s
	}
	dispatcher, err := webhook.NewDispatcher(relay, sender,
		webhook.WithLogger(logger),
		webhook.WithObserver(m),
	)
	if err != nil {
		return nil, fmt.Errorf("app: create dispatcher: %w", err)
	}

	sw, err := sweeper.New(relay, cfg.SweepInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("app: create sweeper: %w", err)
	}

	logger.Info("relay configured",
		slog.String("component", "app"),
		slog.String("env", cfg.AppEnv),
		slog.Bool("ssm", cfg.UseSSM()),
		slog.String("model", cfg.OpenAIModel),
		slog.String("sender", cfg.WhatsAppSender),
		slog.Bool("delivery", sender != nil),
		slog.Bool("transcripts", cfg.TranscriptTable != ""),
		slog.Bool("delivery_reports", cfg.InfobipNotifyURL != ""),
		slog.Bool("admin_routes", cfg.AdminToken != ""),
	)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		Relay:       relay,
		Dispatcher:  dispatcher,
		Sweeper:     sw,
		Transcripts: archive,
	}, nil
}

func secretSource(ctx context.Context, cfg *config.Config, loader *lazyAWS) (paramstore.Getter, error) {
	if !cfg.UseSSM() {
		return paramstore.NewEnv(), nil
	}
	awsCfg, err := loader.load(ctx)
	if err != nil {
		return nil, err
	}
	c, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: create SSM client: %w", err)
	}
	return c, nil
}

func newCompleter(cfg *config.Config, getter paramstore.Getter) (*openai.Client, error) {
	opts := []openai.Option{
		openai.WithModel(cfg.OpenAIModel),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.OpenAITimeout}),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}
	persona, err := cfg.Persona()
	if err != nil {
		return nil, err
	}
	if persona != "" {
		opts = append(opts, openai.WithPersona(persona))
	}
	c, err := openai.NewClient(getter, cfg.OpenAIKeyParam(), opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create OpenAI client: %w", err)
	}
	return c, nil
}

// lazyAWS loads the default AWS config at most once, and only when a
// component needs it.
type lazyAWS struct {
	cfg    aws.Config
	loaded bool
}

func (l *lazyAWS) load(ctx context.Context) (aws.Config, error) {
	if l.loaded {
		return l.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
	}
	l.cfg, l.loaded = cfg, true
	return cfg, nil
}
