package telegram

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/channelgate/channelgate/internal/lifecycle"
	"github.com/channelgate/channelgate/pkg/backoff"
	"github.com/channelgate/channelgate/pkg/logger"
	"github.com/channelgate/channelgate/pkg/qrcode"
)

// Purchaser is the slice of the lifecycle coordinator the listener drives.
type Purchaser interface {
	RequestPurchase(ctx context.Context, userID int64, username string) (*lifecycle.Checkout, error)
}

// poller is the slice of the Bot API client the listener reads from.
type poller interface {
	GetUpdates(ctx context.Context, offset int64) ([]Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error
}

// Listener runs the bot's inbound message loop: greetings, purchase
// commands, and join requests all funnel into the coordinator.
type Listener struct {
	tr    poller
	coord Purchaser
	retry backoff.Strategy
	log   *slog.Logger
}

// ListenerOption configures optional Listener settings.
type ListenerOption func(*Listener)

// WithListenerLogger supplies the listener's logger.
func WithListenerLogger(log *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if log != nil {
			l.log = log
		}
	}
}

// WithPollRetry overrides the backoff strategy used to restart a failed
// poll loop.
func WithPollRetry(strategy backoff.Strategy) ListenerOption {
	return func(l *Listener) {
		if strategy != nil {
			l.retry = strategy
		}
	}
}

// NewListener creates the bot message loop. Panics if tr or coord is nil
// to fail fast during initialization.
func NewListener(tr poller, coord Purchaser, opts ...ListenerOption) *Listener {
	if tr == nil {
		panic("telegram: transport is required")
	}
	if coord == nil {
		panic("telegram: purchase coordinator is required")
	}

	l := &Listener{
		tr:    tr,
		coord: coord,
		retry: backoff.Default(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

const (
	msgWelcome = "Hello! I can help you get access to the private channel. Send /subscribe to pay for a subscription."
	msgJoinReq = "Hello! I received your join request. Pay for the subscription and you will be let in."
	msgFailed  = "Something went wrong while creating your payment. Please try again later."
)

// Run polls for updates until the context is canceled. A poll failure
// restarts the loop after a backoff delay instead of crashing the bot.
func (l *Listener) Run(ctx context.Context) error {
	var offset int64
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			l.log.InfoContext(ctx, "bot listener shutting down")
			return err
		}

		updates, err := l.tr.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			attempt++
			delay := l.retry.NextInterval(attempt)
			l.log.ErrorContext(ctx, "poll failed, restarting",
				logger.Error(err), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			l.handleUpdate(ctx, update)
		}
	}
}

func (l *Listener) handleUpdate(ctx context.Context, update Update) {
	switch {
	case update.ChatJoinRequest != nil:
		from := update.ChatJoinRequest.From
		l.log.InfoContext(ctx, "join request received",
			logger.UserID(from.ID), slog.String("username", from.Username))
		l.send(ctx, from.ID, msgJoinReq)
		l.sendCheckout(ctx, from.ID, from.Username)

	case update.Message != nil && update.Message.Chat.Type == "private" && update.Message.From != nil:
		msg := update.Message
		switch command(msg.Text) {
		case "/start":
			l.send(ctx, msg.Chat.ID, msgWelcome)
		case "/subscribe", "/pay":
			l.sendCheckout(ctx, msg.Chat.ID, msg.From.Username)
		}
	}
}

// sendCheckout requests a payment invoice and replies with the hosted
// payment URL plus a QR code of it.
func (l *Listener) sendCheckout(ctx context.Context, userID int64, username string) {
	checkout, err := l.coord.RequestPurchase(ctx, userID, username)
	if err != nil {
		l.log.ErrorContext(ctx, "failed to create checkout",
			logger.UserID(userID), logger.Error(err))
		l.send(ctx, userID, msgFailed)
		return
	}

	l.send(ctx, userID, "Pay for the subscription here:\n"+checkout.URL)

	png, err := qrcode.Generate(checkout.URL, 0)
	if err != nil {
		// The URL already went out as text; the QR is a convenience.
		l.log.WarnContext(ctx, "failed to render checkout QR",
			logger.UserID(userID), logger.Error(err))
		return
	}
	if err := l.tr.SendPhoto(ctx, userID, png, "Scan to pay"); err != nil {
		l.log.WarnContext(ctx, "failed to deliver checkout QR",
			logger.UserID(userID), logger.Error(err))
	}
}

func (l *Listener) send(ctx context.Context, chatID int64, text string) {
	if err := l.tr.SendMessage(ctx, chatID, text); err != nil {
		l.log.WarnContext(ctx, "failed to send message",
			logger.UserID(chatID), logger.Error(err))
	}
}

// command extracts the leading bot command, dropping the @botname suffix
// Telegram appends in some clients.
func command(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd
}
