package slackmirror

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/roadmap-agent/internal/mirror"
)

type mockAPI struct {
	posts   int
	updates int
	deletes int

	postErr   error
	updateErr error
	deleteErr error
}

func (m *mockAPI) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	m.posts++
	if m.postErr != nil {
		return "", "", m.postErr
	}
	return channelID, "1700000000.000100", nil
}

func (m *mockAPI) UpdateMessageContext(_ context.Context, channelID, ts string, _ ...slack.MsgOption) (string, string, string, error) {
	m.updates++
	if m.updateErr != nil {
		return "", "", "", m.updateErr
	}
	return channelID, ts, "", nil
}

func (m *mockAPI) DeleteMessageContext(_ context.Context, channel, ts string) (string, string, error) {
	m.deletes++
	return channel, ts, m.deleteErr
}

func (m *mockAPI) AuthTestContext(context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{User: "roadmap"}, nil
}

func newClient(api *mockAPI) *Client {
	return New(api, nil, zerolog.Nop())
}

func TestSendThenIdenticalEditIsUnchanged(t *testing.T) {
	api := &mockAPI{}
	c := newClient(api)

	ts, err := c.Send(context.Background(), "C1", "roadmap v1")
	require.NoError(t, err)
	assert.Equal(t, "1700000000.000100", ts)

	err = c.Edit(context.Background(), "C1", ts, "roadmap v1")
	assert.Equal(t, mirror.ReasonUnchanged, mirror.Classify(err))
	assert.Equal(t, 0, api.updates, "identical text never reaches the API")

	require.NoError(t, c.Edit(context.Background(), "C1", ts, "roadmap v2"))
	assert.Equal(t, 1, api.updates)

	err = c.Edit(context.Background(), "C1", ts, "roadmap v2")
	assert.Equal(t, mirror.ReasonUnchanged, mirror.Classify(err))
}

func TestEditUnknownMessageCallsAPI(t *testing.T) {
	api := &mockAPI{}
	c := newClient(api)

	require.NoError(t, c.Edit(context.Background(), "C1", "1.1", "text"))
	assert.Equal(t, 1, api.updates)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want mirror.Reason
	}{
		{"message gone", slack.SlackErrorResponse{Err: "message_not_found"}, mirror.ReasonTargetGone},
		{"channel gone", slack.SlackErrorResponse{Err: "channel_not_found"}, mirror.ReasonTargetGone},
		{"too long", slack.SlackErrorResponse{Err: "msg_too_long"}, mirror.ReasonTooLarge},
		{"kicked", slack.SlackErrorResponse{Err: "not_in_channel"}, mirror.ReasonAccessRevoked},
		{"archived", slack.SlackErrorResponse{Err: "is_archived"}, mirror.ReasonTargetGone},
		{"revoked token", slack.SlackErrorResponse{Err: "token_revoked"}, mirror.ReasonAccessRevoked},
		{"unknown code", slack.SlackErrorResponse{Err: "internal_error"}, mirror.ReasonOther},
		{"http 403", slack.StatusCodeError{Code: 403, Status: "Forbidden"}, mirror.ReasonAccessRevoked},
		{"http 502", slack.StatusCodeError{Code: 502, Status: "Bad Gateway"}, mirror.ReasonOther},
		{"rate limited", &slack.RateLimitedError{}, mirror.ReasonOther},
		{"network", errors.New("connection reset"), mirror.ReasonOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &mockAPI{updateErr: tt.err}
			err := newClient(api).Edit(context.Background(), "C1", "1.1", "text")
			require.Error(t, err)
			assert.Equal(t, tt.want, mirror.Classify(err))
		})
	}
}

func TestPermanentFailureForgetsDigest(t *testing.T) {
	api := &mockAPI{}
	c := newClient(api)
	ts, err := c.Send(context.Background(), "C1", "text")
	require.NoError(t, err)

	api.updateErr = slack.SlackErrorResponse{Err: "message_not_found"}
	err = c.Edit(context.Background(), "C1", ts, "other")
	assert.Equal(t, mirror.ReasonTargetGone, mirror.Classify(err))

	api.updateErr = nil
	require.NoError(t, c.Edit(context.Background(), "C1", ts, "text"), "digest was dropped with the binding")
}

func TestSendFailure(t *testing.T) {
	api := &mockAPI{postErr: slack.SlackErrorResponse{Err: "channel_not_found"}}
	_, err := newClient(api).Send(context.Background(), "C404", "text")
	assert.Equal(t, mirror.ReasonTargetGone, mirror.Classify(err))
}

func TestDeleteAndPing(t *testing.T) {
	api := &mockAPI{}
	c := newClient(api)
	require.NoError(t, c.Delete(context.Background(), "C1", "1.1"))
	assert.Equal(t, 1, api.deletes)

	name, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "roadmap", name)
}
