// Package telegram implements the Telegram transport on top of telebot with
// long polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/bookbot/core/config"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/transport"
)

// Transport sends and receives messages through the Telegram Bot API.
type Transport struct {
	bot *tele.Bot
}

// New initializes the bot with a long poller and a retrying HTTP client.
func New(cfg config.TelegramConfig) (*Transport, error) {
	timeoutSec := cfg.LongPollTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: time.Duration(timeoutSec) * time.Second},
		Client: BuildHTTPClient(),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}

	logger.TG.Info("polling mode",
		slog.String("event", "mode"),
		slog.String("mode", "polling"),
		slog.Int("timeout_seconds", timeoutSec),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)

	return &Transport{bot: bot}, nil
}

// Channel implements transport.Transport.
func (t *Transport) Channel() string { return config.ChannelTelegram }

// Run registers update handlers and polls until ctx is done.
func (t *Transport) Run(ctx context.Context, handler transport.Handler) error {
	t.bot.Handle(tele.OnText, func(c tele.Context) error {
		handler(ctx, t.inbound(c.Message()))
		return nil
	})
	t.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		handler(ctx, t.inbound(c.Message()))
		return nil
	})
	t.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		handler(ctx, t.inbound(c.Message()))
		return nil
	})

	done := make(chan struct{})
	go func() {
		t.bot.Start()
		close(done)
	}()

	select {
	case <-ctx.Done():
		t.bot.Stop()
		<-done
		return nil
	case <-done:
		return nil
	}
}

func (t *Transport) inbound(msg *tele.Message) transport.Inbound {
	in := transport.Inbound{
		From:    strconv.FormatInt(msg.Chat.ID, 10),
		Text:    msg.Text,
		IsGroup: msg.Chat.Type != tele.ChatPrivate,
	}
	switch {
	case msg.Photo != nil:
		in.HasImage = true
		in.MediaRef = msg.Photo.FileID
		in.Text = msg.Caption
	case msg.Document != nil && isImageMIME(msg.Document.MIME):
		in.HasImage = true
		in.MediaRef = msg.Document.FileID
		in.Text = msg.Caption
	}
	return in
}

// SendText sends a plain text message.
func (t *Transport) SendText(ctx context.Context, customerID, text string) error {
	rcpt, err := recipient(customerID)
	if err != nil {
		return err
	}
	if _, err := t.bot.Send(rcpt, text); err != nil {
		return fmt.Errorf("telegram: send text: %w", err)
	}
	return nil
}

// SendFile uploads a document from local disk.
func (t *Transport) SendFile(ctx context.Context, customerID, file, fileName, caption string) error {
	rcpt, err := recipient(customerID)
	if err != nil {
		return err
	}
	doc := &tele.Document{
		File:     tele.FromDisk(file),
		FileName: fileName,
		Caption:  caption,
	}
	if _, err := t.bot.Send(rcpt, doc); err != nil {
		return fmt.Errorf("telegram: send file %q: %w", fileName, err)
	}
	return nil
}

// FetchMedia downloads a file by its Telegram file id.
func (t *Transport) FetchMedia(ctx context.Context, ref string) ([]byte, error) {
	file, err := t.bot.FileByID(ref)
	if err != nil {
		return nil, fmt.Errorf("telegram: resolve file: %w", err)
	}
	rc, err := t.bot.File(&file)
	if err != nil {
		return nil, fmt.Errorf("telegram: fetch file: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("telegram: read file: %w", err)
	}
	return data, nil
}

func recipient(customerID string) (tele.Recipient, error) {
	id, err := strconv.ParseInt(customerID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q", customerID)
	}
	return tele.ChatID(id), nil
}

func isImageMIME(mime string) bool {
	return len(mime) > 6 && mime[:6] == "image/"
}
