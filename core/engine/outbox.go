package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/m3rciful/bookbot/core/logger"
	"github.com/m3rciful/bookbot/core/sender"
	"github.com/m3rciful/bookbot/core/transport"
)

// Outbox enqueues outbound texts on the customer's dispatcher lane so replies
// belonging to one turn reach the customer in the order they were issued.
type Outbox struct {
	disp *sender.Dispatcher
	tr   transport.Transport
}

// NewOutbox wires the asynchronous sender used by the engine.
func NewOutbox(disp *sender.Dispatcher, tr transport.Transport) *Outbox {
	return &Outbox{disp: disp, tr: tr}
}

// Channel returns the underlying transport's channel name.
func (o *Outbox) Channel() string {
	return o.tr.Channel()
}

// Text sends a text reply asynchronously, falling back to a direct send when
// the queue is saturated or closed.
func (o *Outbox) Text(ctx context.Context, customerID, text string) {
	// Detach from the inbound request lifetime; the reply outlives the turn.
	sendCtx := context.WithoutCancel(ctx)
	run := func() error {
		return o.tr.SendText(sendCtx, customerID, text)
	}

	if o.disp == nil {
		if err := run(); err != nil {
			logger.Error(sendCtx, "sender", "send.fail",
				slog.String("action", "send.text"),
				slog.String("err", err.Error()),
			)
		}
		return
	}

	if err := o.disp.Enqueue(sendCtx, customerID, "send.text", run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(sendCtx, "sender", "queue.fallback",
				slog.String("action", "send.text"),
				slog.String("err", err.Error()),
			)
			if runErr := run(); runErr != nil {
				logger.Error(sendCtx, "sender", "send.fail",
					slog.String("action", "send.text"),
					slog.String("err", runErr.Error()),
				)
			}
		}
	}
}
