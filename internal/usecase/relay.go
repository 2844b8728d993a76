package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"whatsapp-relay/internal/conversation"
	"whatsapp-relay/internal/dedup"
	"whatsapp-relay/internal/domain"
)

const (
	defaultConversationTTL = 24 * time.Hour
	defaultDedupTTL        = dedup.DefaultTTL
)

// Completer produces the assistant reply for one user message.
type Completer interface {
	Generate(ctx context.Context, userText string, history []domain.Turn, variant domain.PromptVariant) (string, error)
}

// TranscriptWriter archives completed exchanges. Failures never affect the reply.
type TranscriptWriter interface {
	SaveTranscript(ctx context.Context, rec domain.TranscriptRecord) error
}

// Recorder receives relay observations, typically backed by metrics.
type Recorder interface {
	ObserveOutcome(outcome string)
	ObserveSweep(conversations, dedupRecords int)
	SetActiveConversations(n int)
}

// Outcome is the terminal state reached by one inbound message.
type Outcome string

const (
	OutcomeReplied           Outcome = "replied"
	OutcomeRejectedInvalid   Outcome = "rejected_invalid"
	OutcomeRejectedEmpty     Outcome = "rejected_empty"
	OutcomeRejectedDuplicate Outcome = "rejected_duplicate"
	OutcomeFallback          Outcome = "fallback"
	OutcomeDropped           Outcome = "dropped"
)

// HandleResult is what Handle produced for one inbound message. Reply is empty
// when nothing should be sent back.
type HandleResult struct {
	Reply          string
	Outcome        Outcome
	ConversationID string
}

func (r HandleResult) HasReply() bool {
	return r.Reply != ""
}

// SweepResult counts what one expiry pass evicted.
type SweepResult struct {
	Conversations int
	DedupRecords  int
}

func (r SweepResult) Total() int {
	return r.Conversations + r.DedupRecords
}

// RelayConfig tunes the relay's retention and context policy.
type RelayConfig struct {
	ContextWindow   int
	ConversationTTL time.Duration
	DedupTTL        time.Duration
	// Strict makes store defects panic instead of silently dropping the reply.
	Strict bool
}

type RelayOption func(*Relay)

func WithLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithTranscript(w TranscriptWriter) RelayOption {
	return func(r *Relay) {
		r.transcript = w
	}
}

func WithRecorder(rec Recorder) RelayOption {
	return func(r *Relay) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

func WithClock(now func() time.Time) RelayOption {
	return func(r *Relay) {
		if now != nil {
			r.now = now
		}
	}
}

// Relay owns the conversation store and dedup cache for one bot and runs the
// per-message pipeline against them.
type Relay struct {
	completer     Completer
	conversations *conversation.Store
	seen          *dedup.Cache
	cfg           RelayConfig
	locks         *keyedMutex

	transcript TranscriptWriter
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
}

func NewRelay(c Completer, conversations *conversation.Store, seen *dedup.Cache, cfg RelayConfig, opts ...RelayOption) (*Relay, error) {
	if c == nil {
		return nil, errors.New("usecase: completer must not be nil")
	}
	if conversations == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if seen == nil {
		return nil, errors.New("usecase: dedup cache must not be nil")
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = DefaultContextWindow
	}
	if cfg.ContextWindow > conversations.HistoryCap() {
		return nil, errors.New("usecase: context window must not exceed the history cap")
	}
	if cfg.ConversationTTL <= 0 {
		cfg.ConversationTTL = defaultConversationTTL
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = defaultDedupTTL
	}
	r := &Relay{
		completer:     c,
		conversations: conversations,
		seen:          seen,
		cfg:           cfg,
		locks:         newKeyedMutex(),
		recorder:      nopRecorder{},
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "relay"))
	return r, nil
}

// Handle runs one inbound text message through dedup, context assembly and
// completion. It never returns an error: every failure maps to an outcome.
func (r *Relay) Handle(ctx context.Context, senderID, messageID, text string) HandleResult {
	senderID = strings.TrimSpace(senderID)
	messageID = strings.TrimSpace(messageID)

	if senderID == "" || messageID == "" {
		return r.reject(ctx, OutcomeRejectedInvalid, newError(ErrorInvalidInput, "missing_identifier", nil), senderID, messageID)
	}
	if strings.TrimSpace(text) == "" {
		return r.reject(ctx, OutcomeRejectedEmpty, newError(ErrorInvalidInput, "blank_text", nil), senderID, messageID)
	}

	unlock := r.locks.Lock(senderID)
	defer unlock()

	if r.seen.IsDuplicate(messageID) {
		return r.reject(ctx, OutcomeRejectedDuplicate, newError(ErrorDuplicate, "message_already_accepted", nil), senderID, messageID)
	}
	// Committed before any side effect: a retry after a crash or dropped
	// connection must not reprocess the message.
	r.seen.MarkAccepted(messageID)

	// Refreshes LastActivity so a sweep during the completion cannot evict
	// the entry this message was accepted into.
	entry := r.conversations.GetOrCreate(senderID)
	input := buildCompletionInput(entry.History, text, r.cfg.ContextWindow)

	log := r.logger.With(
		slog.String("sender", senderID),
		slog.String("message_id", messageID),
		slog.String("conversation_id", entry.ConversationID),
	)

	reply, err := r.completer.Generate(ctx, input.UserText, input.History, input.Variant)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("usecase: completion returned an empty reply")
	}
	if err != nil {
		uerr := classifyCompletionError(err)
		level := slog.LevelWarn
		if uerr.Code == ErrorCompletionUnavailable {
			level = slog.LevelError
		}
		log.Log(ctx, level, "completion failed",
			slog.String("code", string(uerr.Code)),
			slog.String("reason", uerr.Reason),
			slog.Any("err", err),
		)
		r.recorder.ObserveOutcome(string(OutcomeFallback))
		return HandleResult{Reply: apologyFor(uerr), Outcome: OutcomeFallback, ConversationID: entry.ConversationID}
	}
	reply = strings.TrimSpace(reply)

	if err := r.conversations.AppendTurn(senderID, input.UserText, reply); err != nil {
		uerr := newError(ErrorStoreNotFound, "append_without_entry", err)
		if r.cfg.Strict {
			panic(uerr)
		}
		log.ErrorContext(ctx, "conversation entry vanished before append",
			slog.String("code", string(uerr.Code)),
			slog.Any("err", err),
		)
		r.recorder.ObserveOutcome(string(OutcomeDropped))
		return HandleResult{Outcome: OutcomeDropped, ConversationID: entry.ConversationID}
	}

	r.archive(ctx, log, domain.TranscriptRecord{
		SenderID:       senderID,
		ConversationID: entry.ConversationID,
		MessageID:      messageID,
		Question:       input.UserText,
		Answer:         reply,
		At:             r.now(),
	})

	log.InfoContext(ctx, "reply generated",
		slog.String("variant", input.Variant.String()),
		slog.Int("window_turns", len(input.History)),
	)
	r.recorder.ObserveOutcome(string(OutcomeReplied))
	r.recorder.SetActiveConversations(r.conversations.Len())
	return HandleResult{Reply: reply, Outcome: OutcomeReplied, ConversationID: entry.ConversationID}
}

// ClearConversation forgets the sender's history. Dedup records are kept so
// a replayed message is still suppressed.
func (r *Relay) ClearConversation(senderID string) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return
	}
	unlock := r.locks.Lock(senderID)
	defer unlock()

	r.conversations.Remove(senderID)
	r.logger.Info("conversation cleared", slog.String("sender", senderID))
	r.recorder.SetActiveConversations(r.conversations.Len())
}

// Conversation returns a copy of the sender's current state.
func (r *Relay) Conversation(senderID string) (domain.ConversationEntry, bool) {
	return r.conversations.Get(strings.TrimSpace(senderID))
}

// SweepNow evicts expired conversations and dedup records immediately.
func (r *Relay) SweepNow() SweepResult {
	now := r.now()
	res := SweepResult{
		Conversations: r.conversations.SweepExpired(r.cfg.ConversationTTL, now),
		DedupRecords:  r.seen.SweepExpired(r.cfg.DedupTTL, now),
	}
	r.recorder.ObserveSweep(res.Conversations, res.DedupRecords)
	r.recorder.SetActiveConversations(r.conversations.Len())
	return res
}

func (r *Relay) reject(ctx context.Context, outcome Outcome, reason *Error, senderID, messageID string) HandleResult {
	r.logger.DebugContext(ctx, "message dropped",
		slog.String("outcome", string(outcome)),
		slog.String("reason", reason.Reason),
		slog.String("sender", senderID),
		slog.String("message_id", messageID),
	)
	r.recorder.ObserveOutcome(string(outcome))
	return HandleResult{Outcome: outcome}
}

func (r *Relay) archive(ctx context.Context, log *slog.Logger, rec domain.TranscriptRecord) {
	if r.transcript == nil {
		return
	}
	if err := r.transcript.SaveTranscript(ctx, rec); err != nil {
		log.WarnContext(ctx, "transcript archive failed", slog.Any("err", err))
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveOutcome(string) {}

func (nopRecorder) ObserveSweep(int, int) {}

func (nopRecorder) SetActiveConversations(int) {}
