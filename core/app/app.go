// Package app assembles the bot: configuration, logging, the session store,
// the chosen transport, the conversation engine, and the proof pipeline.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/bookbot/core/catalog"
	coreconfig "github.com/m3rciful/bookbot/core/config"
	coredatabase "github.com/m3rciful/bookbot/core/database"
	"github.com/m3rciful/bookbot/core/engine"
	"github.com/m3rciful/bookbot/core/fulfill"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/ocr"
	"github.com/m3rciful/bookbot/core/orders"
	"github.com/m3rciful/bookbot/core/proof"
	"github.com/m3rciful/bookbot/core/sender"
	"github.com/m3rciful/bookbot/core/session"
	"github.com/m3rciful/bookbot/core/telegram"
	"github.com/m3rciful/bookbot/core/transport"
	"github.com/m3rciful/bookbot/core/whatsapp"
)

// App is the wired application.
type App struct {
	cfg    *coreconfig.Config
	store  *session.Store
	disp   *sender.Dispatcher
	eng    *engine.Engine
	db     *sqlx.DB
	waCfg  coreconfig.WhatsAppConfig
	waTr   *whatsapp.Transport
	tgTr   *telegram.Transport
	active transport.Transport
}

// New initializes every component. The logger must be ready before anything
// else logs, so it comes first.
func New(cfg *coreconfig.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: nil config provided")
	}

	if err := logger.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("app: logger init failed: %w", err)
	}

	cat := catalog.FromConfig(cfg.Catalog)
	store := session.NewStore(time.Duration(cfg.Bot.SessionIdleMinutes) * time.Minute)

	a := &App{cfg: cfg, store: store, waCfg: cfg.WhatsApp}

	rec := orders.Recorder(orders.NewNoop())
	if cfg.Database.Enabled {
		dbCfg := coredatabase.FromConfig(cfg.Database)
		if err := coredatabase.RunMigrations(dbCfg); err != nil {
			store.Close()
			return nil, fmt.Errorf("app: migrations failed: %w", err)
		}
		db, err := coredatabase.Connect(dbCfg)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("app: database initialization failed: %w", err)
		}
		a.db = db
		rec = orders.NewPostgres(db)
	}

	switch cfg.Channel {
	case coreconfig.ChannelWhatsApp:
		a.waTr = whatsapp.New(cfg.WhatsApp)
		a.active = a.waTr
	case coreconfig.ChannelTelegram:
		tg, err := telegram.New(cfg.Telegram)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.tgTr = tg
		a.active = tg
	default:
		a.Close()
		return nil, fmt.Errorf("app: unsupported channel %q", cfg.Channel)
	}

	a.disp = sender.NewDispatcher(sender.Options{
		QueueSize:    cfg.Sender.QueueSize,
		Lanes:        cfg.Sender.Lanes,
		MaxRetries:   cfg.Sender.MaxRetries,
		RetryBackoff: time.Duration(cfg.Sender.RetryBackoffMS) * time.Millisecond,
	})

	out := engine.NewOutbox(a.disp, a.active)
	ful := fulfill.New(cat, a.active, rec)
	pipe := proof.New(proof.Config{
		TmpDir:  cfg.Proof.TmpDir,
		Lang:    cfg.Proof.Lang,
		Timeout: time.Duration(cfg.Proof.TimeoutSeconds) * time.Second,
		Token:   cfg.Payment.ProofToken,
		PixKey:  cfg.Payment.PixKey,
	}, store, a.active, ocr.NewTesseract(cfg.Proof.TesseractBin), ful)

	a.eng = engine.New(engine.Config{
		Trigger: cfg.Bot.Trigger,
		PixKey:  cfg.Payment.PixKey,
	}, cat, store, out, pipe)

	return a, nil
}

// Run serves inbound messages on the configured channel until ctx is done.
func (a *App) Run(ctx context.Context) error {
	handler := transport.Handler(a.eng.Handle)

	switch {
	case a.waTr != nil:
		webhook := whatsapp.NewWebhook(a.waCfg, handler)
		return webhook.Run(ctx)
	case a.tgTr != nil:
		return a.tgTr.Run(ctx, handler)
	default:
		return fmt.Errorf("app: no transport configured")
	}
}

// Close drains the dispatcher and releases resources.
func (a *App) Close() {
	if a.disp != nil {
		a.disp.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
