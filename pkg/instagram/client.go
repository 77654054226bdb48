package instagram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"igautomate/pkg/logger"
	"igautomate/pkg/ratelimit"
	"igautomate/pkg/retry"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeAuth        ErrorType = "auth"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeInvalid     ErrorType = "invalid"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error represents a failed Graph API call. Admitted is false when the
// local tracker refused the call and nothing was sent.
type Error struct {
	Type     ErrorType
	Message  string
	Code     int
	Admitted bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s (code: %d)", e.Type, e.Message, e.Code)
}

// Gate admits outbound calls. *ratelimit.Tracker satisfies it.
type Gate interface {
	Allow(api ratelimit.APIType, tenantID, accountID, userID string) ratelimit.Decision
}

// TokenSource resolves the page access token of a connected account
type TokenSource interface {
	Token(tenantID, accountID string) (string, error)
}

// TokenFunc adapts a function to TokenSource
type TokenFunc func(tenantID, accountID string) (string, error)

// Token calls f
func (f TokenFunc) Token(tenantID, accountID string) (string, error) {
	return f(tenantID, accountID)
}

// SecretGetter reads a named secret
type SecretGetter interface {
	Get(name string) (string, error)
}

// SecretTokens looks tokens up as "ig-token-<tenant>-<account>" secrets
func SecretTokens(secrets SecretGetter) TokenSource {
	return TokenFunc(func(tenantID, accountID string) (string, error) {
		return secrets.Get(TokenSecretName(tenantID, accountID))
	})
}

// TokenSecretName is the secret name holding an account's access token
func TokenSecretName(tenantID, accountID string) string {
	return fmt.Sprintf("ig-token-%s-%s", tenantID, accountID)
}

// Account identifies the connected business account a call is made for
type Account struct {
	TenantID  string
	AccountID string
}

// Client sends messages through the Instagram Graph API. Every call is
// checked against the Gate first and is never sent when not admitted.
type Client struct {
	httpClient *http.Client
	baseURL    string
	gate       Gate
	tokens     TokenSource
	retry      *retry.Config
	logger     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another host, for tests
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry policy for network and server errors
func WithRetry(cfg *retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// NewClient creates a client that admits calls through gate
func NewClient(gate Gate, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    BaseURL,
		gate:       gate,
		tokens:     tokens,
		logger:     logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.Component(c.logger, "instagram")
	if c.retry == nil {
		c.retry = retry.DefaultConfig()
		c.retry.Logger = c.logger
	}
	if c.retry.RetryIf == nil {
		c.retry.RetryIf = retryable
	}
	if c.retry.Name == "" {
		c.retry.Name = "graph_api"
	}
	return c
}

// SendText sends a text message to recipientID
func (c *Client) SendText(ctx context.Context, acct Account, recipientID, text string) (*SendResponse, error) {
	if text == "" {
		return nil, &Error{Type: ErrorTypeInvalid, Message: "message text is empty"}
	}
	req := SendRequest{
		Recipient: Recipient{ID: recipientID},
		Message:   Message{Text: text},
	}
	return c.send(ctx, ratelimit.APISendText, acct, recipientID, req)
}

// SendMedia sends an attachment hosted at mediaURL to recipientID
func (c *Client) SendMedia(ctx context.Context, acct Account, recipientID string, kind MediaType, mediaURL string) (*SendResponse, error) {
	if !kind.valid() || mediaURL == "" {
		return nil, &Error{Type: ErrorTypeInvalid, Message: fmt.Sprintf("invalid attachment %q %q", kind, mediaURL)}
	}
	req := SendRequest{
		Recipient: Recipient{ID: recipientID},
		Message: Message{Attachment: &Attachment{
			Type:    kind,
			Payload: AttachmentPayload{URL: mediaURL},
		}},
	}
	return c.send(ctx, ratelimit.APISendMedia, acct, recipientID, req)
}

// PrivateReply answers a comment with a direct message to its author.
// Comments on live broadcasts and on posts are separate quotas.
func (c *Client) PrivateReply(ctx context.Context, acct Account, commentID, authorID, text string, live bool) (*SendResponse, error) {
	if commentID == "" || text == "" {
		return nil, &Error{Type: ErrorTypeInvalid, Message: "comment id and text are required"}
	}
	api := ratelimit.APIPrivateRepliesPost
	if live {
		api = ratelimit.APIPrivateRepliesLive
	}
	req := SendRequest{
		Recipient: Recipient{CommentID: commentID},
		Message:   Message{Text: text},
	}
	return c.send(ctx, api, acct, authorID, req)
}

// ListConversations returns the account's conversations, optionally
// narrowed to the one with userID
func (c *Client) ListConversations(ctx context.Context, acct Account, userID string) (*ConversationsResponse, error) {
	token, err := c.admit(ratelimit.APIConversations, acct, userID)
	if err != nil {
		return nil, err
	}

	var out ConversationsResponse
	err = retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, GetConversationsURL(c.baseURL, acct.AccountID, userID), nil)
		if err != nil {
			return &Error{Type: ErrorTypeUnknown, Message: fmt.Sprintf("failed to create request: %v", err)}
		}
		return c.doJSON(req, token, &out)
	}, c.retry)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) send(ctx context.Context, api ratelimit.APIType, acct Account, userID string, body SendRequest) (*SendResponse, error) {
	token, err := c.admit(api, acct, userID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Type: ErrorTypeParsing, Message: fmt.Sprintf("failed to encode request: %v", err)}
	}

	var out SendResponse
	err = retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, GetMessagesURL(c.baseURL, acct.AccountID), bytes.NewReader(payload))
		if err != nil {
			return &Error{Type: ErrorTypeUnknown, Message: fmt.Sprintf("failed to create request: %v", err)}
		}
		req.Header.Set("Content-Type", "application/json")
		return c.doJSON(req, token, &out)
	}, c.retry)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// admit runs the admission check and resolves the account token
func (c *Client) admit(api ratelimit.APIType, acct Account, userID string) (string, error) {
	d := c.gate.Allow(api, acct.TenantID, acct.AccountID, userID)
	if !d.Allowed {
		t := ErrorTypeRateLimit
		if d.Reason == ratelimit.ReasonInvalid {
			t = ErrorTypeInvalid
		}
		return "", &Error{Type: t, Message: fmt.Sprintf("%s call not admitted: %s", api, d.Reason)}
	}

	token, err := c.tokens.Token(acct.TenantID, acct.AccountID)
	if err != nil {
		return "", &Error{Type: ErrorTypeAuth, Message: fmt.Sprintf("no access token for %s/%s: %v", acct.TenantID, acct.AccountID, err), Admitted: true}
	}
	return token, nil
}

func (c *Client) doJSON(req *http.Request, token string, target interface{}) error {
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	c.logger.DebugWithFields("Making HTTP request", map[string]interface{}{
		"method": req.Method,
		"path":   req.URL.Path,
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":      req.Method,
			"path":        req.URL.Path,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return &Error{Type: ErrorTypeNetwork, Message: fmt.Sprintf("request failed: %v", err), Admitted: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Type: ErrorTypeNetwork, Message: fmt.Sprintf("failed to read response body: %v", err), Admitted: true}
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":      req.Method,
		"path":        req.URL.Path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if err := checkResponseStatus(resp.StatusCode, body); err != nil {
		return err
	}

	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("Failed to parse JSON response", map[string]interface{}{
			"path":         req.URL.Path,
			"body_preview": preview,
		})
		return &Error{Type: ErrorTypeParsing, Message: fmt.Sprintf("failed to parse JSON: %v", err), Admitted: true}
	}
	return nil
}

// Graph API error codes that mean throttling or an expired token
const (
	codeAPITooManyCalls   = 4
	codeUserTooManyCalls  = 17
	codeAppTooManyCalls   = 32
	codeRateLimitedMethod = 613
	codeInvalidToken      = 190
)

// checkResponseStatus maps a non-2xx response to a typed error. Graph API
// error bodies take precedence over the HTTP status when present.
func checkResponseStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var ge graphErrorEnvelope
	msg := http.StatusText(status)
	code := status
	if json.Unmarshal(body, &ge) == nil && ge.Error != nil {
		msg = ge.Error.Message
		code = ge.Error.Code
		switch ge.Error.Code {
		case codeAPITooManyCalls, codeUserTooManyCalls, codeAppTooManyCalls, codeRateLimitedMethod:
			return &Error{Type: ErrorTypeRateLimit, Message: msg, Code: code, Admitted: true}
		case codeInvalidToken:
			return &Error{Type: ErrorTypeAuth, Message: msg, Code: code, Admitted: true}
		}
	}

	t := ErrorTypeUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		t = ErrorTypeAuth
	case status == http.StatusNotFound:
		t = ErrorTypeNotFound
	case status == http.StatusTooManyRequests:
		t = ErrorTypeRateLimit
	case status >= 500:
		t = ErrorTypeServerError
	}
	return &Error{Type: t, Message: msg, Code: code, Admitted: true}
}

// retryable retries transport failures and 5xx responses only. Throttling
// from the platform is left to the caller.
func retryable(err error) bool {
	igErr, ok := err.(*Error)
	if !ok {
		return false
	}
	return igErr.Type == ErrorTypeNetwork || igErr.Type == ErrorTypeServerError
}
