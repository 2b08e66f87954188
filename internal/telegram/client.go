// Package telegram is a minimal Bot API client covering exactly the calls
// the bridge daemon makes: threaded sends with inline keyboards, edits,
// callback acknowledgements, forum topic management, typing indicators, and
// long-poll update fetching. It speaks the plain HTTP form encoding the Bot
// API accepts; no SDK, no webhook support.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	// longPollTimeout is the server-side getUpdates wait; the HTTP client
	// timeout leaves headroom on top of it.
	longPollTimeout = 30 * time.Second
	maxResponseBody = 1 << 20
)

// Client talks to one bot in one chat. The zero value is not usable; use New.
type Client struct {
	// BaseURL lets tests point the client at a local server.
	BaseURL string
	// HTTPClient defaults to one with a timeout comfortably above the
	// long-poll wait.
	HTTPClient *http.Client

	token  string
	chatID int64
}

// New returns a client for the given bot token and target chat.
func New(token string, chatID int64) *Client {
	return &Client{
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: longPollTimeout + 15*time.Second},
		token:      token,
		chatID:     chatID,
	}
}

// ChatID returns the chat the client sends into.
func (c *Client) ChatID() int64 {
	return c.chatID
}

// APIError is a Bot API "ok": false reply.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %s (code %d)", e.Method, e.Description, e.Code)
}

// Descriptions the Bot API uses when the send target no longer exists. Only
// these mean "destination gone"; everything else is treated as transient.
var goneDescriptions = []string{
	"message thread not found",
	"chat not found",
	"bot was kicked",
	"the group chat was deleted",
}

// IsDestinationGone reports whether err is the API telling us the thread or
// chat we are sending to no longer exists. Transient failures (timeouts,
// rate limits, flood control) never match.
func IsDestinationGone(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	desc := strings.ToLower(apiErr.Description)
	for _, gone := range goneDescriptions {
		if strings.Contains(desc, gone) {
			return true
		}
	}
	return false
}

// call performs one Bot API method call and returns the raw result payload.
func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.BaseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing %s response: %w", method, err)
	}
	if !env.OK {
		return nil, &APIError{Method: method, Code: env.ErrorCode, Description: env.Description}
	}
	return env.Result, nil
}
