package instagram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igautomate/internal/store/memory"
	"igautomate/pkg/config"
	"igautomate/pkg/logger"
	"igautomate/pkg/ratelimit"
	"igautomate/pkg/retry"
)

type admitAll struct {
	calls []ratelimit.APIType
	users []string
}

func (g *admitAll) Allow(api ratelimit.APIType, tenantID, accountID, userID string) ratelimit.Decision {
	g.calls = append(g.calls, api)
	g.users = append(g.users, userID)
	return ratelimit.Decision{Allowed: true, API: api}
}

type denyAll struct{ reason string }

func (g denyAll) Allow(api ratelimit.APIType, tenantID, accountID, userID string) ratelimit.Decision {
	return ratelimit.Decision{API: api, Reason: g.reason}
}

var acct = Account{TenantID: "acme", AccountID: "1784"}

func staticToken(token string) TokenSource {
	return TokenFunc(func(tenantID, accountID string) (string, error) { return token, nil })
}

func newTestClient(t *testing.T, gate Gate, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(gate, staticToken("tok"),
		WithBaseURL(srv.URL),
		WithLogger(logger.NewNopLogger()),
		WithRetry(&retry.Config{MaxAttempts: 3, Backoff: &retry.ConstantBackoff{}}),
	)
}

func TestSendText(t *testing.T) {
	gate := &admitAll{}
	var got SendRequest
	client := newTestClient(t, gate, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/"+APIVersion+"/1784/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"recipient_id":"u1","message_id":"m1"}`))
	})

	resp, err := client.SendText(context.Background(), acct, "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", resp.MessageID)
	assert.Equal(t, "u1", got.Recipient.ID)
	assert.Equal(t, "hello", got.Message.Text)
	assert.Nil(t, got.Message.Attachment)
	assert.Equal(t, []ratelimit.APIType{ratelimit.APISendText}, gate.calls)
	assert.Equal(t, []string{"u1"}, gate.users)
}

func TestSendMedia(t *testing.T) {
	gate := &admitAll{}
	var got SendRequest
	client := newTestClient(t, gate, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"recipient_id":"u1","message_id":"m2"}`))
	})

	_, err := client.SendMedia(context.Background(), acct, "u1", MediaImage, "https://cdn.example.com/a.jpg")
	require.NoError(t, err)
	require.NotNil(t, got.Message.Attachment)
	assert.Equal(t, MediaImage, got.Message.Attachment.Type)
	assert.Equal(t, "https://cdn.example.com/a.jpg", got.Message.Attachment.Payload.URL)
	assert.Equal(t, []ratelimit.APIType{ratelimit.APISendMedia}, gate.calls)

	_, err = client.SendMedia(context.Background(), acct, "u1", "sticker", "https://cdn.example.com/a.webp")
	var igErr *Error
	require.True(t, errors.As(err, &igErr))
	assert.Equal(t, ErrorTypeInvalid, igErr.Type)
	assert.Len(t, gate.calls, 1, "invalid input must not reach the gate")
}

func TestPrivateReplyPicksQuota(t *testing.T) {
	gate := &admitAll{}
	var got SendRequest
	client := newTestClient(t, gate, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"recipient_id":"u9","message_id":"m3"}`))
	})

	_, err := client.PrivateReply(context.Background(), acct, "c1", "u9", "see DMs", true)
	require.NoError(t, err)
	_, err = client.PrivateReply(context.Background(), acct, "c2", "u9", "see DMs", false)
	require.NoError(t, err)

	assert.Equal(t, []ratelimit.APIType{ratelimit.APIPrivateRepliesLive, ratelimit.APIPrivateRepliesPost}, gate.calls)
	assert.Equal(t, "c2", got.Recipient.CommentID)
	assert.Empty(t, got.Recipient.ID)
}

func TestListConversations(t *testing.T) {
	client := newTestClient(t, &admitAll{}, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "instagram", r.URL.Query().Get("platform"))
		assert.Equal(t, "u1", r.URL.Query().Get("user_id"))
		w.Write([]byte(`{"data":[{"id":"conv1","updated_time":"2025-03-01T12:00:00+0000"}],"paging":{"cursors":{"after":"x"}}}`))
	})

	resp, err := client.ListConversations(context.Background(), acct, "u1")
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "conv1", resp.Data[0].ID)
	assert.Equal(t, "x", resp.Paging.Cursors.After)
}

func TestNotAdmittedIsNeverSent(t *testing.T) {
	var hits int32
	client := newTestClient(t, denyAll{reason: ratelimit.ReasonPlatformLimit}, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	})

	_, err := client.SendText(context.Background(), acct, "u1", "hello")
	var igErr *Error
	require.True(t, errors.As(err, &igErr))
	assert.Equal(t, ErrorTypeRateLimit, igErr.Type)
	assert.False(t, igErr.Admitted)
	assert.Contains(t, igErr.Message, ratelimit.ReasonPlatformLimit)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestInvalidAdmission(t *testing.T) {
	client := newTestClient(t, denyAll{reason: ratelimit.ReasonInvalid}, func(w http.ResponseWriter, r *http.Request) {})

	_, err := client.ListConversations(context.Background(), acct, "")
	var igErr *Error
	require.True(t, errors.As(err, &igErr))
	assert.Equal(t, ErrorTypeInvalid, igErr.Type)
}

func TestMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	tokens := TokenFunc(func(tenantID, accountID string) (string, error) {
		return "", errors.New("secret not found")
	})
	client := NewClient(&admitAll{}, tokens, WithBaseURL(srv.URL), WithLogger(logger.NewNopLogger()))

	_, err := client.SendText(context.Background(), acct, "u1", "hello")
	var igErr *Error
	require.True(t, errors.As(err, &igErr))
	assert.Equal(t, ErrorTypeAuth, igErr.Type)
	assert.True(t, igErr.Admitted)
}

func TestSecretTokens(t *testing.T) {
	secrets := mapSecrets{TokenSecretName("acme", "1784"): "page-token"}
	token, err := SecretTokens(secrets).Token("acme", "1784")
	require.NoError(t, err)
	assert.Equal(t, "page-token", token)
	assert.Equal(t, "ig-token-acme-1784", TokenSecretName("acme", "1784"))
}

type mapSecrets map[string]string

func (m mapSecrets) Get(name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func TestRetriesServerErrors(t *testing.T) {
	var hits int32
	client := newTestClient(t, &admitAll{}, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"recipient_id":"u1","message_id":"m4"}`))
	})

	resp, err := client.SendText(context.Background(), acct, "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m4", resp.MessageID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestGraphErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorType
		hits   int32
	}{
		{"throttled code", http.StatusBadRequest, `{"error":{"message":"Application request limit reached","code":4}}`, ErrorTypeRateLimit, 1},
		{"expired token", http.StatusBadRequest, `{"error":{"message":"Session has expired","code":190}}`, ErrorTypeAuth, 1},
		{"429", http.StatusTooManyRequests, ``, ErrorTypeRateLimit, 1},
		{"404", http.StatusNotFound, ``, ErrorTypeNotFound, 1},
		{"403", http.StatusForbidden, ``, ErrorTypeAuth, 1},
		{"500 exhausts retries", http.StatusInternalServerError, ``, ErrorTypeServerError, 3},
		{"bad json", http.StatusOK, `{not json`, ErrorTypeParsing, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			client := newTestClient(t, &admitAll{}, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.SendText(context.Background(), acct, "u1", "hello")
			var igErr *Error
			require.True(t, errors.As(err, &igErr), "got %v", err)
			assert.Equal(t, tt.want, igErr.Type)
			assert.True(t, igErr.Admitted)
			assert.Equal(t, tt.hits, atomic.LoadInt32(&hits))
		})
	}
}

func TestTrackerGatesConversations(t *testing.T) {
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	tracker, err := ratelimit.New(config.DefaultConfig(), store,
		ratelimit.WithClock(clock),
		ratelimit.WithLogger(logger.NewNopLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close(context.Background()) })

	var hits int32
	client := newTestClient(t, tracker, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"data":[]}`))
	})

	ctx := context.Background()
	_, err = client.ListConversations(ctx, acct, "")
	require.NoError(t, err)
	_, err = client.ListConversations(ctx, acct, "")
	require.NoError(t, err)
	_, err = client.ListConversations(ctx, acct, "")

	var igErr *Error
	require.True(t, errors.As(err, &igErr))
	assert.Equal(t, ErrorTypeRateLimit, igErr.Type)
	assert.Contains(t, igErr.Message, ratelimit.ReasonAPILimit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	_, err = client.SendText(ctx, acct, "u1", "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, tracker.EngagedUserCount("acme", "1784"))
}
