package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Config holds the bot credentials and target channel.
type Config struct {
	BotToken     string        `env:"TELEGRAM_BOT_TOKEN,required"`
	ChannelID    int64         `env:"PRIVATE_CHANNEL_ID,required"`
	BaseURL      string        `env:"TELEGRAM_BASE_URL" envDefault:"https://api.telegram.org"`
	Timeout      time.Duration `env:"TELEGRAM_TIMEOUT" envDefault:"30s"`
	PollTimeout  int           `env:"TELEGRAM_POLL_TIMEOUT" envDefault:"25"`
	InviteExpiry time.Duration `env:"TELEGRAM_INVITE_EXPIRY" envDefault:"24h"`
}

// Client is a minimal Telegram Bot API client covering what the
// subscription bot needs. Methods map one-to-one onto Bot API calls.
type Client struct {
	config Config
	client *http.Client
}

// NewClient creates a Bot API client.
func NewClient(config Config) (*Client, error) {
	if config.BotToken == "" {
		return nil, ErrMissingToken
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telegram.org"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = 25
	}
	if config.InviteExpiry <= 0 {
		config.InviteExpiry = 24 * time.Hour
	}

	return &Client{
		config: config,
		// Long polling holds the connection open for PollTimeout seconds,
		// so the HTTP timeout must sit above it.
		client: &http.Client{Timeout: config.Timeout + time.Duration(config.PollTimeout)*time.Second},
	}, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// Update is one entry of the getUpdates result, trimmed to the update
// kinds the bot handles.
type Update struct {
	UpdateID        int64            `json:"update_id"`
	Message         *Message         `json:"message"`
	ChatJoinRequest *ChatJoinRequest `json:"chat_join_request"`
}

// Message is an inbound chat message.
type Message struct {
	Text string `json:"text"`
	Chat Chat   `json:"chat"`
	From *User  `json:"from"`
}

// ChatJoinRequest is a pending request to join the private channel.
type ChatJoinRequest struct {
	Chat Chat `json:"chat"`
	From User `json:"from"`
}

// Chat identifies the conversation an update belongs to.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// User is the Bot API user object, trimmed to what the bot reads.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Join(ErrTransport, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.config.BaseURL, c.config.BotToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Join(ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Join(ErrTransport, err)
	}
	defer resp.Body.Close()

	return decodeAPIResponse(resp.Body, method, result)
}

func decodeAPIResponse(r io.Reader, method string, result any) error {
	respBody, err := io.ReadAll(io.LimitReader(r, 4<<20))
	if err != nil {
		return errors.Join(ErrTransport, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return errors.Join(ErrTransport, err)
	}
	if !parsed.OK {
		return fmt.Errorf("%w: %s: %s (code %d)", ErrTransport, method, parsed.Description, parsed.ErrorCode)
	}
	if result != nil {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return errors.Join(ErrTransport, err)
		}
	}
	return nil
}

// SendMessage delivers a plain-text message to the chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, nil)
}

// SendPhoto uploads a photo with an optional caption to the chat.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return errors.Join(ErrTransport, err)
	}
	if caption != "" {
		if err := mw.WriteField("caption", caption); err != nil {
			return errors.Join(ErrTransport, err)
		}
	}
	fw, err := mw.CreateFormFile("photo", "qr.png")
	if err != nil {
		return errors.Join(ErrTransport, err)
	}
	if _, err := fw.Write(photo); err != nil {
		return errors.Join(ErrTransport, err)
	}
	if err := mw.Close(); err != nil {
		return errors.Join(ErrTransport, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", c.config.BaseURL, c.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return errors.Join(ErrTransport, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Join(ErrTransport, err)
	}
	defer resp.Body.Close()

	return decodeAPIResponse(resp.Body, "sendPhoto", nil)
}

// CreateInviteLink creates a fresh single-use invite link into the private
// channel, valid for the configured expiry.
func (c *Client) CreateInviteLink(ctx context.Context, userID int64) (string, error) {
	var result struct {
		InviteLink string `json:"invite_link"`
	}
	err := c.call(ctx, "createChatInviteLink", map[string]any{
		"chat_id":      c.config.ChannelID,
		"name":         fmt.Sprintf("sub-%d", userID),
		"member_limit": 1,
		"expire_date":  time.Now().Add(c.config.InviteExpiry).Unix(),
	}, &result)
	if err != nil {
		return "", err
	}
	if result.InviteLink == "" {
		return "", fmt.Errorf("%w: createChatInviteLink returned no link", ErrTransport)
	}
	return result.InviteLink, nil
}

// KickMember removes the user from the private channel. The immediate unban
// lifts the permanent ban so the user can re-join after paying again.
func (c *Client) KickMember(ctx context.Context, userID int64) error {
	if err := c.call(ctx, "banChatMember", map[string]any{
		"chat_id": c.config.ChannelID,
		"user_id": userID,
	}, nil); err != nil {
		return err
	}
	return c.call(ctx, "unbanChatMember", map[string]any{
		"chat_id":        c.config.ChannelID,
		"user_id":        userID,
		"only_if_banned": true,
	}, nil)
}

// GetUpdates long-polls the Bot API for new updates past the given offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	var updates []Update
	err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         c.config.PollTimeout,
		"allowed_updates": []string{"message", "chat_join_request"},
	}, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}
