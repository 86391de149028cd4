// Package whatsapp implements the WhatsApp transport on top of the Twilio
// Messaging API: an outbound client plus an inbound webhook listener.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/m3rciful/bookbot/core/config"
	"github.com/m3rciful/bookbot/core/logger"
)

// Transport sends and receives WhatsApp messages through Twilio.
type Transport struct {
	client       *twilio.RestClient
	from         string
	mediaBaseURL string
	httpc        *http.Client
	authSID      string
	authToken    string
}

// New constructs the Twilio client from config.
func New(cfg config.WhatsAppConfig) *Transport {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Transport{
		client:       client,
		from:         cfg.From,
		mediaBaseURL: strings.TrimRight(cfg.MediaBaseURL, "/"),
		httpc:        &http.Client{Timeout: 30 * time.Second},
		authSID:      cfg.AccountSID,
		authToken:    cfg.AuthToken,
	}
}

// Channel implements transport.Transport.
func (t *Transport) Channel() string { return config.ChannelWhatsApp }

// SendText sends a plain text message to the customer.
func (t *Transport) SendText(ctx context.Context, customerID, text string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(waAddr(customerID))
	params.SetBody(text)

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("whatsapp: send text: %w", err)
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		return fmt.Errorf("whatsapp: send text: twilio error %d", *resp.ErrorCode)
	}
	logger.WA.LogAttrs(ctx, slog.LevelDebug, "message.sent",
		slog.String("status", "ok"),
		slog.String("sid", deref(resp.Sid)),
	)
	return nil
}

// SendFile sends a document by URL. Twilio requires attachments to be
// fetchable, so item files must live under the configured media base URL.
func (t *Transport) SendFile(ctx context.Context, customerID, file, fileName, caption string) error {
	if t.mediaBaseURL == "" {
		return fmt.Errorf("whatsapp: media_base_url not configured, cannot send %q", fileName)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo(waAddr(customerID))
	params.SetBody(caption)
	params.SetMediaUrl([]string{t.mediaBaseURL + "/" + url.PathEscape(file)})

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("whatsapp: send file %q: %w", fileName, err)
	}
	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		return fmt.Errorf("whatsapp: send file %q: twilio error %d", fileName, *resp.ErrorCode)
	}
	logger.WA.LogAttrs(ctx, slog.LevelInfo, "file.sent",
		slog.String("status", "ok"),
		slog.String("file", fileName),
		slog.String("sid", deref(resp.Sid)),
	)
	return nil
}

// FetchMedia downloads inbound media (the payment proof) from the Twilio CDN
// using the account credentials.
func (t *Transport) FetchMedia(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: media request: %w", err)
	}
	req.SetBasicAuth(t.authSID, t.authToken)

	resp, err := t.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whatsapp: fetch media: unexpected status (%d)", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read media: %w", err)
	}
	return data, nil
}

// waAddr normalizes a customer id to Twilio's whatsapp: addressing.
func waAddr(customerID string) string {
	if strings.HasPrefix(customerID, "whatsapp:") {
		return customerID
	}
	return "whatsapp:" + customerID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
