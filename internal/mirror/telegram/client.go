// Package telegram implements the mirror port over the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
	"github.com/p-blackswan/roadmap-agent/internal/metrics"
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Client posts and edits roadmap messages in Telegram chats and channels.
// Channel refs are chat ids or @usernames; message refs are message ids.
type Client struct {
	baseURL string
	client  *http.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithMetrics records one counter per API call.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l.With().Str("component", "mirror.telegram").Logger() }
}

// New creates a Bot API client. An empty apiURL selects DefaultAPIURL.
func New(token, apiURL string, timeout time.Duration, opts ...Option) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(apiURL, "/") + "/bot" + token,
		client:  &http.Client{Timeout: timeout},
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ mirror.Port = (*Client)(nil)

// ---- Bot API wire types ----

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type editMessageRequest struct {
	ChatID                string `json:"chat_id"`
	MessageID             int64  `json:"message_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type deleteMessageRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
}

type message struct {
	MessageID int64 `json:"message_id"`
}

type user struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Send posts text as HTML and returns the new message id.
func (c *Client) Send(ctx context.Context, channelRef, text string) (string, error) {
	var msg message
	err := c.call(ctx, "send", "sendMessage", sendMessageRequest{
		ChatID:                channelRef,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}, &msg)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(msg.MessageID, 10), nil
}

// Edit replaces the text of a message.
func (c *Client) Edit(ctx context.Context, channelRef, messageRef, text string) error {
	id, err := parseMessageID("edit", messageRef)
	if err != nil {
		return err
	}
	return c.call(ctx, "edit", "editMessageText", editMessageRequest{
		ChatID:                channelRef,
		MessageID:             id,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}, nil)
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, channelRef, messageRef string) error {
	id, err := parseMessageID("delete", messageRef)
	if err != nil {
		return err
	}
	return c.call(ctx, "delete", "deleteMessage", deleteMessageRequest{ChatID: channelRef, MessageID: id}, nil)
}

// Ping verifies the token with getMe and returns the bot's username.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var me user
	if err := c.call(ctx, "ping", "getMe", struct{}{}, &me); err != nil {
		return "", err
	}
	return me.Username, nil
}

func parseMessageID(op, ref string) (int64, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil || id <= 0 {
		return 0, mirror.NewError(op, mirror.ReasonTargetGone, fmt.Errorf("invalid message id %q", ref))
	}
	return id, nil
}

func (c *Client) call(ctx context.Context, op, method string, payload, result any) error {
	err := c.do(ctx, op, method, payload, result)
	outcome := "ok"
	if err != nil {
		outcome = string(mirror.Classify(err))
	}
	c.metrics.RecordMirrorCall("telegram", method, outcome)
	return err
}

func (c *Client) do(ctx context.Context, op, method string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return mirror.NewError(op, mirror.ReasonOther, fmt.Errorf("marshal %s: %w", method, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return mirror.NewError(op, mirror.ReasonOther, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return mirror.NewError(op, mirror.ReasonOther, fmt.Errorf("%s: %w", method, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return mirror.NewError(op, mirror.ReasonOther, fmt.Errorf("read %s response: %w", method, err))
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		apiErr := rerrors.NewAPIError("telegram", resp.StatusCode, "unreadable response")
		apiErr.Err = err
		return mirror.NewError(op, classify(resp.StatusCode, ""), apiErr)
	}
	if !out.OK {
		code := out.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		reason := classify(code, out.Description)
		c.logger.Debug().Str("method", method).Int("code", code).Str("description", out.Description).
			Str("reason", string(reason)).Msg("bot api error")
		return mirror.NewError(op, reason, rerrors.NewAPIError("telegram", code, out.Description))
	}

	if result != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return mirror.NewError(op, mirror.ReasonOther, fmt.Errorf("unmarshal %s result: %w", method, err))
		}
	}
	return nil
}

var (
	unchangedMarkers = []string{"message is not modified"}
	tooLargeMarkers  = []string{"message is too long", "message_too_long", "text is too long"}
	goneMarkers      = []string{
		"message to edit not found", "message to delete not found", "message not found",
		"message_id_invalid", "chat not found",
	}
	revokedMarkers = []string{
		"bot was kicked", "not enough rights", "have no rights", "chat_write_forbidden",
		"bot is not a member", "need administrator rights",
	}
)

// classify maps a Bot API failure to a mirror reason.
func classify(code int, description string) mirror.Reason {
	d := strings.ToLower(description)
	switch {
	case containsAny(d, unchangedMarkers):
		return mirror.ReasonUnchanged
	case code == http.StatusRequestEntityTooLarge || containsAny(d, tooLargeMarkers):
		return mirror.ReasonTooLarge
	case containsAny(d, goneMarkers):
		return mirror.ReasonTargetGone
	case code == http.StatusForbidden || containsAny(d, revokedMarkers):
		return mirror.ReasonAccessRevoked
	}
	return mirror.ReasonOther
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
