// Package slackmirror implements the mirror port on top of slack-go.
package slackmirror

import (
	"context"
	"crypto/sha256"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
	"github.com/p-blackswan/roadmap-agent/internal/metrics"
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
	"github.com/p-blackswan/roadmap-agent/lru"
)

// API abstracts the Slack Web API calls used by the mirror.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

const digestCacheSize = 1024

type digestKey struct {
	channel string
	ts      string
}

// Client mirrors roadmaps into Slack channels. Message refs are message
// timestamps.
//
// chat.update succeeds even when the text is identical, so Client remembers
// a digest of the last text it pushed to each message and reports
// ReasonUnchanged itself.
type Client struct {
	api     API
	digests *lru.Cache[digestKey, [sha256.Size]byte]
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a Slack mirror client. m may be nil.
func New(api API, m *metrics.Metrics, logger zerolog.Logger) *Client {
	return &Client{
		api:     api,
		digests: lru.New[digestKey, [sha256.Size]byte](digestCacheSize),
		metrics: m,
		logger:  logger.With().Str("component", "mirror.slack").Logger(),
	}
}

// NewFromToken creates a client backed by the real Slack Web API.
func NewFromToken(botToken string, m *metrics.Metrics, logger zerolog.Logger) *Client {
	return New(slack.New(botToken), m, logger)
}

var _ mirror.Port = (*Client)(nil)

func textOptions(text string) []slack.MsgOption {
	return []slack.MsgOption{
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
		slack.MsgOptionDisableMediaUnfurl(),
	}
}

// Send posts text and returns the message timestamp.
func (c *Client) Send(ctx context.Context, channelRef, text string) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, channelRef, textOptions(text)...)
	c.record("chat.postMessage", err)
	if err != nil {
		return "", classified("send", err)
	}
	// Keyed on the ref callers pass back, not the resolved channel id.
	c.digests.Put(digestKey{channelRef, ts}, sha256.Sum256([]byte(text)))
	return ts, nil
}

// Edit replaces the text of a message.
func (c *Client) Edit(ctx context.Context, channelRef, messageRef, text string) error {
	key := digestKey{channelRef, messageRef}
	sum := sha256.Sum256([]byte(text))
	if prev, ok := c.digests.Get(key); ok && prev == sum {
		c.record("chat.update", nil)
		return mirror.NewError("edit", mirror.ReasonUnchanged, nil)
	}

	_, _, _, err := c.api.UpdateMessageContext(ctx, channelRef, messageRef, textOptions(text)...)
	c.record("chat.update", err)
	if err != nil {
		if classify(err).Permanent() {
			c.digests.Delete(key)
		}
		return classified("edit", err)
	}
	c.digests.Put(key, sum)
	return nil
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, channelRef, messageRef string) error {
	c.digests.Delete(digestKey{channelRef, messageRef})
	_, _, err := c.api.DeleteMessageContext(ctx, channelRef, messageRef)
	c.record("chat.delete", err)
	if err != nil {
		return classified("delete", err)
	}
	return nil
}

// Ping verifies the token and returns the bot user name.
func (c *Client) Ping(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	c.record("auth.test", err)
	if err != nil {
		return "", classified("ping", err)
	}
	return resp.User, nil
}

func (c *Client) record(method string, err error) {
	result := "ok"
	if err != nil {
		result = string(classify(err))
		c.logger.Debug().Err(err).Str("method", method).Str("reason", result).Msg("slack api error")
	}
	c.metrics.RecordMirrorCall("slack", method, result)
}

func classified(op string, err error) error {
	reason := classify(err)
	return mirror.NewError(op, reason, toAPIError(err))
}

var (
	tooLargeCodes = map[string]bool{"msg_too_long": true, "msg_blocks_too_long": true}
	goneCodes     = map[string]bool{
		"message_not_found": true, "channel_not_found": true, "cant_update_message": true,
		"cant_delete_message": true, "edit_window_closed": true, "is_archived": true, "channel_is_archived": true,
	}
	revokedCodes = map[string]bool{
		"not_in_channel": true, "account_inactive": true, "invalid_auth": true, "not_authed": true, "token_revoked": true,
		"token_expired": true, "missing_scope": true, "restricted_action": true, "no_permission": true,
		"ekm_access_denied": true,
	}
)

// classify maps a slack-go error to a mirror reason.
func classify(err error) mirror.Reason {
	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		switch code := slackErr.Err; {
		case tooLargeCodes[code]:
			return mirror.ReasonTooLarge
		case goneCodes[code]:
			return mirror.ReasonTargetGone
		case revokedCodes[code]:
			return mirror.ReasonAccessRevoked
		}
		return mirror.ReasonOther
	}
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusRequestEntityTooLarge:
			return mirror.ReasonTooLarge
		case http.StatusForbidden, http.StatusUnauthorized:
			return mirror.ReasonAccessRevoked
		}
	}
	return mirror.ReasonOther
}

func toAPIError(err error) error {
	var slackErr slack.SlackErrorResponse
	if errors.As(err, &slackErr) {
		apiErr := rerrors.NewAPIError("slack", http.StatusOK, slackErr.Err)
		apiErr.Err = err
		return apiErr
	}
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		apiErr := rerrors.NewAPIError("slack", statusErr.Code, statusErr.Status)
		apiErr.Err = err
		return apiErr
	}
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		apiErr := rerrors.NewAPIError("slack", http.StatusTooManyRequests, "rate limited")
		apiErr.Err = err
		return apiErr
	}
	return err
}
