package telegram

import "errors"

var (
	// ErrMissingToken indicates the bot token was not configured.
	ErrMissingToken = errors.New("telegram bot token is required")
	// ErrTransport wraps all Bot API call failures.
	ErrTransport = errors.New("telegram transport error")
)
