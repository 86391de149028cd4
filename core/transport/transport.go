// Package transport defines the contract between the conversation core and a
// messaging channel. Implementations live in core/whatsapp and core/telegram.
package transport

import "context"

// Inbound is one normalized incoming message event.
type Inbound struct {
	// From is the channel-scoped customer identifier (phone number or chat id).
	From string
	// Text is the raw message text; the engine trims and lowercases it.
	Text string
	// IsGroup marks messages originating from group chats; the bot ignores them.
	IsGroup bool
	// HasImage is true when the message carries an image attachment.
	HasImage bool
	// MediaRef is an opaque reference used to fetch the attachment bytes.
	MediaRef string
}

// Transport is the outbound side of a messaging channel.
type Transport interface {
	// Channel returns the short channel name used in logs ("wa", "tg").
	Channel() string
	SendText(ctx context.Context, customerID, text string) error
	SendFile(ctx context.Context, customerID, file, fileName, caption string) error
	// FetchMedia downloads the raw bytes behind an inbound media reference.
	FetchMedia(ctx context.Context, ref string) ([]byte, error)
}

// Handler consumes normalized inbound messages.
type Handler func(ctx context.Context, msg Inbound)
