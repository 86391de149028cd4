// Package proof implements the asynchronous payment-proof verification
// pipeline: persist the submitted image, extract text from it, apply the
// acceptance predicate, and on success hand over to fulfillment.
package proof

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/m3rciful/bookbot/core/engine"
	"github.com/m3rciful/bookbot/core/fulfill"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/ocr"
	"github.com/m3rciful/bookbot/core/session"
	"github.com/m3rciful/bookbot/core/transport"
)

// Config controls proof handling.
type Config struct {
	// TmpDir receives per-customer proof images; one file per customer,
	// overwritten on resubmission.
	TmpDir string
	// Lang is the fixed OCR language profile.
	Lang string
	// Timeout bounds a single extraction run.
	Timeout time.Duration
	// Token is a literal substring expected in a valid receipt.
	Token string
	// PixKey is the payment destination; its presence in the extracted text
	// also counts as valid evidence.
	PixKey string
}

// Pipeline verifies submitted proofs in the background.
type Pipeline struct {
	cfg   Config
	store *session.Store
	tr    transport.Transport
	ext   ocr.Extractor
	ful   *fulfill.Fulfiller
}

// New constructs a pipeline.
func New(cfg Config, store *session.Store, tr transport.Transport, ext ocr.Extractor, ful *fulfill.Fulfiller) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Pipeline{cfg: cfg, store: store, tr: tr, ext: ext, ful: ful}
}

// Submit starts verification for the customer's media reference. The version
// is the session version at hand-off; a result is dropped when the session
// was mutated or deleted in the meantime.
func (p *Pipeline) Submit(ctx context.Context, customerID, mediaRef string, version uint64) {
	// The continuation outlives the inbound turn.
	go p.run(context.WithoutCancel(ctx), customerID, mediaRef, version)
}

// Accepted reports whether extracted proof text counts as valid payment
// evidence: it must contain the expected token or the PIX key as a literal
// substring. Deliberately weak; no amount/payee cross-check happens.
func Accepted(text, token, pixKey string) bool {
	return strings.Contains(text, token) || strings.Contains(text, pixKey)
}

func (p *Pipeline) run(ctx context.Context, customerID, mediaRef string, version uint64) {
	defer func() {
		if r := recover(); r != nil {
			logger.PIPE.Error("panic recovered",
				slog.String("event", "pipeline.panic"),
				slog.Any("err", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	data, err := p.tr.FetchMedia(ctx, mediaRef)
	if err != nil {
		logger.PIPE.LogAttrs(ctx, slog.LevelError, "media.fetch_failed",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		p.sendText(ctx, customerID, engine.MsgProofError)
		return
	}

	path := p.proofPath(customerID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		logger.PIPE.LogAttrs(ctx, slog.LevelError, "proof.persist_failed",
			slog.String("status", "fail"),
			slog.String("path", path),
			slog.String("err", err.Error()),
		)
		p.sendText(ctx, customerID, engine.MsgProofError)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.PIPE.LogAttrs(ctx, slog.LevelError, "proof.persist_failed",
			slog.String("status", "fail"),
			slog.String("path", path),
			slog.String("err", err.Error()),
		)
		p.sendText(ctx, customerID, engine.MsgProofError)
		return
	}
	logger.PIPE.LogAttrs(ctx, slog.LevelInfo, "proof.persisted",
		slog.String("path", path),
	)

	extractCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, extractErr := p.ext.Extract(extractCtx, path, p.cfg.Lang)

	p.store.Do(customerID, func() {
		sess, ok := p.store.Get(customerID)
		if !ok || sess.Stage != session.StageAwaitingPayment || sess.Version != version {
			logger.PIPE.LogAttrs(ctx, slog.LevelWarn, "result.stale",
				slog.String("status", "skip"),
				slog.Uint64("submitted_version", version),
			)
			return
		}

		if extractErr != nil {
			logger.PIPE.LogAttrs(ctx, slog.LevelError, "ocr.failed",
				slog.String("status", "fail"),
				slog.String("err", extractErr.Error()),
				slog.Duration("duration", logger.Took(start)),
			)
			p.sendText(ctx, customerID, engine.MsgProofError)
			return
		}

		logger.PIPE.LogAttrs(ctx, slog.LevelInfo, "ocr.done",
			slog.String("lang", p.cfg.Lang),
			slog.String("text_preview", logger.SanitizeLimit(text, 100)),
			slog.Duration("duration", logger.Took(start)),
		)

		if !Accepted(text, p.cfg.Token, p.cfg.PixKey) {
			logger.PIPE.LogAttrs(ctx, slog.LevelWarn, "proof.rejected",
				slog.String("status", "rejected"),
			)
			p.sendText(ctx, customerID, engine.MsgRejected)
			return
		}

		logger.PIPE.LogAttrs(ctx, slog.LevelInfo, "proof.accepted",
			slog.String("status", "ok"),
		)
		p.sendText(ctx, customerID, engine.MsgAccepted)

		if err := p.ful.Deliver(ctx, customerID, sess); err != nil {
			// Keep the session in awaiting_payment so the customer can
			// resubmit and retry delivery.
			logger.PIPE.LogAttrs(ctx, slog.LevelError, "fulfill.failed",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			p.sendText(ctx, customerID, engine.MsgDeliverFail)
			return
		}

		p.store.Delete(customerID)
		logger.PIPE.LogAttrs(ctx, slog.LevelInfo, "order.completed",
			slog.String("status", "ok"),
		)
	})
}

// sendText delivers verdict texts synchronously so they always precede the
// files sent by fulfillment.
func (p *Pipeline) sendText(ctx context.Context, customerID, text string) {
	if err := p.tr.SendText(ctx, customerID, text); err != nil {
		logger.PIPE.LogAttrs(ctx, slog.LevelError, "send.fail",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

func (p *Pipeline) proofPath(customerID string) string {
	return filepath.Join(p.cfg.TmpDir, "comprovante-"+sanitizeID(customerID)+".jpg")
}

// sanitizeID keeps customer identifiers filesystem-safe.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '+', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, id)
}
