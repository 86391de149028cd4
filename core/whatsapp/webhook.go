package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/m3rciful/bookbot/core/config"
	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/transport"
)

// webhookPayload is the form body Twilio posts for an inbound message.
type webhookPayload struct {
	MessageSid        string `form:"MessageSid"`
	AccountSid        string `form:"AccountSid"`
	From              string `form:"From"`
	To                string `form:"To"`
	Body              string `form:"Body"`
	NumMedia          string `form:"NumMedia"`
	MediaUrl0         string `form:"MediaUrl0"`
	MediaContentType0 string `form:"MediaContentType0"`
}

// Webhook is the inbound HTTP listener for Twilio message callbacks.
type Webhook struct {
	app     *fiber.App
	cfg     config.WhatsAppConfig
	handler transport.Handler
}

// NewWebhook builds the Fiber app and wires the message route.
func NewWebhook(cfg config.WhatsAppConfig, handler transport.Handler) *Webhook {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "bookbot",
	})

	w := &Webhook{app: app, cfg: cfg, handler: handler}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	route := app.Group("/webhook")
	if cfg.ValidateSignature {
		route.Use(validateSignature(cfg))
	}
	route.Post("/whatsapp", w.handleMessage)

	return w
}

// Run serves until ctx is cancelled.
func (w *Webhook) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", w.cfg.Listen, w.cfg.Port)

	errc := make(chan error, 1)
	go func() {
		errc <- w.app.Listen(addr)
	}()

	logger.WA.LogAttrs(ctx, slog.LevelInfo, "webhook.listening",
		slog.String("status", "ok"),
		slog.String("addr", addr),
	)

	select {
	case <-ctx.Done():
		return w.app.Shutdown()
	case err := <-errc:
		return err
	}
}

func (w *Webhook) handleMessage(c *fiber.Ctx) error {
	var payload webhookPayload
	if err := c.BodyParser(&payload); err != nil {
		logger.WA.Warn("payload parse failed",
			slog.String("event", "webhook.bad_payload"),
			slog.String("err", err.Error()),
		)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid webhook payload",
		})
	}

	// Status callbacks carry no sender; ack and drop.
	if payload.From == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	numMedia, _ := strconv.Atoi(payload.NumMedia)
	hasImage := numMedia > 0 && strings.HasPrefix(payload.MediaContentType0, "image/")

	msg := transport.Inbound{
		From:     strings.TrimPrefix(payload.From, "whatsapp:"),
		Text:     payload.Body,
		IsGroup:  false,
		HasImage: hasImage,
		MediaRef: payload.MediaUrl0,
	}

	// Replies go through the dispatcher, so handling is fast enough to run
	// before the ack.
	w.handler(c.UserContext(), msg)

	return c.SendStatus(fiber.StatusOK)
}

// validateSignature checks X-Twilio-Signature: base64(HMAC-SHA1(auth token,
// full URL + sorted form params)).
func validateSignature(cfg config.WhatsAppConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("X-Twilio-Signature")
		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing signature",
			})
		}

		params := make(map[string]string)
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			params[string(key)] = string(value)
		})

		want := computeSignature(cfg.AuthToken, fullURL(cfg, c), params)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			logger.WA.Warn("signature mismatch",
				slog.String("event", "webhook.bad_signature"),
				slog.String("status", "rejected"),
			)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid signature",
			})
		}
		return c.Next()
	}
}

// fullURL reconstructs the URL Twilio signed. Behind a proxy the host seen
// here differs from the public one, so the configured public URL wins.
func fullURL(cfg config.WhatsAppConfig, c *fiber.Ctx) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/") + c.Path()
	}
	return fmt.Sprintf("%s://%s%s", c.Protocol(), c.Hostname(), c.Path())
}

func computeSignature(authToken, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := url
	for _, k := range keys {
		data += k + params[k]
	}

	h := hmac.New(sha1.New, []byte(authToken))
	h.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}
