package webhook

import (
	"context"
	"errors"
	"log/slog"

	"whatsapp-relay/internal/domain"
	"whatsapp-relay/internal/integrations/infobip"
	"whatsapp-relay/internal/usecase"
)

// Handler runs one inbound text through the conversation pipeline.
type Handler interface {
	Handle(ctx context.Context, senderID, messageID, text string) usecase.HandleResult
}

// Sender delivers a reply to a WhatsApp user.
type Sender interface {
	SendText(ctx context.Context, to, text string) (infobip.SendResult, error)
}

// Observer is notified about skipped envelopes and send attempts.
type Observer interface {
	ObserveSend(ok bool)
	ObserveSkipped()
}

// DispatchReport summarizes one batch.
type DispatchReport struct {
	Received   int
	Skipped    int
	Replied    int
	Sent       int
	SendFailed int
}

type Dispatcher struct {
	handler  Handler
	sender   Sender
	observer Observer
	logger   *slog.Logger
}

type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// NewDispatcher wires a handler to a sender. A nil sender is allowed for
// local runs: replies are computed and counted but never delivered.
func NewDispatcher(h Handler, s Sender, opts ...Option) (*Dispatcher, error) {
	if h == nil {
		return nil, errors.New("webhook: handler must not be nil")
	}
	d := &Dispatcher{
		handler:  h,
		sender:   s,
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "webhook"))
	return d, nil
}

// Dispatch processes msgs in order. A failed send is logged and counted; the
// exchange already recorded in the conversation history is kept.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs []domain.InboundMessage) DispatchReport {
	var report DispatchReport
	for _, msg := range msgs {
		report.Received++
		if !Forwardable(msg) {
			report.Skipped++
			d.observer.ObserveSkipped()
			d.logger.DebugContext(ctx, "skipping non-text or empty message",
				slog.String("sender", msg.SenderID),
				slog.String("message_id", msg.MessageID),
				slog.String("type", msg.Type),
			)
			continue
		}

		d.logger.InfoContext(ctx, "message received",
			slog.String("sender", msg.SenderID),
			slog.String("contact", msg.ContactName),
			slog.String("message_id", msg.MessageID),
		)
		res := d.handler.Handle(ctx, msg.SenderID, msg.MessageID, msg.Text)
		if !res.HasReply() {
			continue
		}
		report.Replied++
		if d.sender == nil {
			continue
		}

		sent, err := d.sender.SendText(ctx, msg.SenderID, res.Reply)
		d.observer.ObserveSend(err == nil)
		if err != nil {
			report.SendFailed++
			d.logger.ErrorContext(ctx, "reply delivery failed",
				slog.String("sender", msg.SenderID),
				slog.String("message_id", msg.MessageID),
				slog.String("outcome", string(res.Outcome)),
				slog.Any("err", err),
			)
			continue
		}
		report.Sent++
		d.logger.InfoContext(ctx, "reply sent",
			slog.String("sender", msg.SenderID),
			slog.String("outbound_id", sent.MessageID),
			slog.String("status", sent.Status),
		)
	}
	return report
}

type nopObserver struct{}

func (nopObserver) ObserveSend(bool) {}

func (nopObserver) ObserveSkipped() {}
