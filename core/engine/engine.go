// Package engine implements the per-customer conversation state machine. It
// maps one inbound message plus the current session to outbound replies, a
// session mutation, and optionally a proof-verification hand-off.
package engine

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/m3rciful/bookbot/core/catalog"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/session"
	"github.com/m3rciful/bookbot/core/transport"
)

// Verifier starts asynchronous payment-proof verification for a customer.
// The version is the session version captured at hand-off time; a pipeline
// result is discarded when the session moved on in the meantime.
type Verifier interface {
	Submit(ctx context.Context, customerID, mediaRef string, version uint64)
}

// Config holds the engine's flow settings.
type Config struct {
	// Trigger is the exact phrase that opens (or restarts) an ordering session.
	Trigger string
	// PixKey is the payment destination shown to customers.
	PixKey string
}

// Engine drives the ordering conversation.
type Engine struct {
	cfg   Config
	cat   *catalog.Catalog
	store *session.Store
	out   *Outbox
	proof Verifier
}

// New constructs an engine. The trigger is normalized once so the per-message
// comparison is a plain string equality.
func New(cfg Config, cat *catalog.Catalog, store *session.Store, out *Outbox, proof Verifier) *Engine {
	cfg.Trigger = strings.ToLower(strings.TrimSpace(cfg.Trigger))
	return &Engine{
		cfg:   cfg,
		cat:   cat,
		store: store,
		out:   out,
		proof: proof,
	}
}

// Handle processes one inbound message. It never returns an error to the
// transport: every failure is either replied to the customer or logged.
func (e *Engine) Handle(ctx context.Context, msg transport.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			logger.ENG.Error("panic recovered",
				slog.String("event", "engine.panic"),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	channel := e.out.Channel()
	ctx = logger.WithRID(ctx, logger.BuildRID(channel, msg.From))
	ctx = logger.WithCustomer(ctx, channel, msg.From)

	text := strings.ToLower(strings.TrimSpace(msg.Text))
	start := time.Now()

	var handlerName string
	e.store.Do(msg.From, func() {
		handlerName = e.dispatch(ctx, msg, text)
	})

	if handlerName == "" {
		return
	}
	logger.Info(logger.WithHandler(ctx, handlerName), "engine", "handler.handled",
		slog.String("status", "ok"),
		slog.String("handler", handlerName),
		slog.Duration("duration", time.Since(start)),
	)
}

// dispatch runs under the customer's serialization lock and returns the
// handler name for the turn summary, or "" when the message was ignored.
func (e *Engine) dispatch(ctx context.Context, msg transport.Inbound, text string) string {
	// The trigger always restarts the flow, even mid-session. It doubles as
	// an escape hatch for customers stuck in a stale stage.
	if text == e.cfg.Trigger && !msg.IsGroup {
		e.startSession(ctx, msg.From)
		return "start"
	}

	sess, ok := e.store.Get(msg.From)
	if !ok {
		if logger.ShouldSampleDebug() {
			logger.ENG.LogAttrs(ctx, slog.LevelDebug, "message.ignored",
				slog.String("status", "skip"),
				slog.String("payload", logger.SanitizeLimit(text, 256)),
			)
		}
		return ""
	}

	switch sess.Stage {
	case session.StageStart:
		e.handleBrowse(ctx, msg.From, sess, text)
		return "browse"
	case session.StageAwaitingGift:
		e.handleGift(ctx, msg.From, sess, text)
		return "gift"
	case session.StageAwaitingPayment:
		e.handlePayment(ctx, msg, sess)
		return "payment"
	default:
		logger.ENG.LogAttrs(ctx, slog.LevelWarn, "stage.unknown",
			slog.String("stage", string(sess.Stage)),
		)
		return ""
	}
}

func (e *Engine) startSession(ctx context.Context, customerID string) {
	e.store.Put(customerID, &session.Session{Stage: session.StageStart})
	logger.ENG.LogAttrs(ctx, slog.LevelInfo, "session.created",
		slog.String("status", "ok"),
		slog.String("stage", string(session.StageStart)),
	)
	e.out.Text(ctx, customerID, msgGreeting)
	e.out.Text(ctx, customerID, priceListing(e.cat.List()))
	e.out.Text(ctx, customerID, msgPrompt)
}

func (e *Engine) handleBrowse(ctx context.Context, customerID string, sess *session.Session, text string) {
	matched := e.cat.Match(text)
	if len(matched) == 0 {
		logger.ENG.LogAttrs(ctx, slog.LevelWarn, "selection.rejected",
			slog.String("status", "rejected"),
			slog.String("payload", logger.SanitizeLimit(text, 256)),
		)
		e.out.Text(ctx, customerID, msgNotFound)
		return
	}

	for _, item := range matched {
		sess.Add(item.ID, item.Name)
	}
	total := e.total(sess)

	e.out.Text(ctx, customerID, msgSelection(e.selectionNames(sess)))

	if sess.Units() >= 2 {
		sess.Stage = session.StageAwaitingGift
		e.store.Put(customerID, sess)
		logger.ENG.LogAttrs(ctx, slog.LevelInfo, "gift.qualified",
			slog.String("stage", string(sess.Stage)),
			slog.Int("units", sess.Units()),
			slog.Int("total", total),
		)
		e.out.Text(ctx, customerID, msgGiftEarned)
		e.out.Text(ctx, customerID, msgGiftPrompt)
		e.out.Text(ctx, customerID, e.cat.Listing())
		return
	}

	sess.Stage = session.StageAwaitingPayment
	e.store.Put(customerID, sess)
	logger.ENG.LogAttrs(ctx, slog.LevelInfo, "payment.requested",
		slog.String("stage", string(sess.Stage)),
		slog.Int("units", sess.Units()),
		slog.Int("total", total),
	)
	e.out.Text(ctx, customerID, msgTotal(total))
	e.out.Text(ctx, customerID, msgPix(e.cfg.PixKey))
	e.out.Text(ctx, customerID, msgProofNext)
}

func (e *Engine) handleGift(ctx context.Context, customerID string, sess *session.Session, text string) {
	var bonus catalog.Item
	found := false
	lower := strings.ToLower(text)
	for _, item := range e.cat.List() {
		if strings.Contains(lower, strings.ToLower(item.Name)) && !sess.Has(item.Name) {
			bonus = item
			found = true
			break
		}
	}

	if !found {
		logger.ENG.LogAttrs(ctx, slog.LevelWarn, "gift.rejected",
			slog.String("status", "rejected"),
			slog.String("payload", logger.SanitizeLimit(text, 256)),
		)
		e.out.Text(ctx, customerID, msgGiftInvalid)
		return
	}

	sess.Bonus = bonus.Name
	sess.Stage = session.StageAwaitingPayment
	e.store.Put(customerID, sess)
	// The bonus is free: the amount due covers the paid selection only.
	total := e.total(sess)
	logger.ENG.LogAttrs(ctx, slog.LevelInfo, "gift.chosen",
		slog.String("bonus", bonus.Name),
		slog.String("stage", string(sess.Stage)),
		slog.Int("total", total),
	)
	e.out.Text(ctx, customerID, msgGiftChosen(bonus.Name))
	e.out.Text(ctx, customerID, msgGiftTotal(total))
	e.out.Text(ctx, customerID, msgPixKey(e.cfg.PixKey))
	e.out.Text(ctx, customerID, msgProofNext)
}

func (e *Engine) handlePayment(ctx context.Context, msg transport.Inbound, sess *session.Session) {
	if !msg.HasImage {
		logger.ENG.LogAttrs(ctx, slog.LevelDebug, "proof.not_image",
			slog.String("status", "skip"),
		)
		e.out.Text(ctx, msg.From, msgNeedImage)
		return
	}

	logger.ENG.LogAttrs(ctx, slog.LevelInfo, "proof.received",
		slog.String("status", "ok"),
	)
	e.out.Text(ctx, msg.From, msgVerifying)
	e.proof.Submit(ctx, msg.From, msg.MediaRef, sess.Version)
}

// total sums the paid selection at per-item prices; the bonus is excluded.
func (e *Engine) total(sess *session.Session) int {
	total := 0
	for _, sel := range sess.Items {
		if item, ok := e.cat.ByID(sel.ID); ok {
			total += item.Price * sel.Qty
		}
	}
	return total
}

func (e *Engine) selectionNames(sess *session.Session) []string {
	return sess.Names()
}
