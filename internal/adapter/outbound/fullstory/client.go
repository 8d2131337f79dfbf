// Package fullstory is a thin client for the FullStory HTTP API, used
// by the fullstory_* tool handlers. Requests are throttled client-side
// so a burst of admitted tool calls cannot trip the upstream API limit.
package fullstory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// defaultRequestsPerSecond is the client-side throttle when the config
// leaves it unset.
const defaultRequestsPerSecond = 5

// maxResponseBytes caps how much of an API response is read.
const maxResponseBytes = 4 << 20

// ErrAPIStatus is wrapped around non-2xx API responses.
var ErrAPIStatus = errors.New("fullstory api error")

// Annotation is a created annotation as returned by the API.
type Annotation struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	StartTime time.Time `json:"start_time"`
}

// Session is a recorded session summary.
type Session struct {
	UserID      string `json:"userId"`
	SessionID   string `json:"sessionId"`
	CreatedTime int64  `json:"createdTime"`
	FsURL       string `json:"fsUrl"`
}

// Client calls the FullStory API with bearer auth and a request-rate
// throttle.
type Client struct {
	baseURL  string
	apiToken string
	http     *http.Client
	throttle *rate.Limiter
}

// NewClient builds a client for baseURL. requestsPerSecond <= 0 falls
// back to the default throttle.
func NewClient(baseURL, apiToken string, requestsPerSecond float64) *Client {
	if requestsPerSecond <= 0 {
		requestsPerSecond = defaultRequestsPerSecond
	}
	return &Client{
		baseURL:  baseURL,
		apiToken: apiToken,
		http:     &http.Client{Timeout: 30 * time.Second},
		throttle: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)),
	}
}

// CreateAnnotation posts an annotation onto the recording timeline.
func (c *Client) CreateAnnotation(ctx context.Context, text string, start time.Time) (*Annotation, error) {
	body := map[string]any{"text": text}
	if !start.IsZero() {
		body["start_time"] = start.UTC().Format(time.RFC3339)
	}
	var out Annotation
	if err := c.do(ctx, http.MethodPost, "/v2/annotations", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions returns recorded sessions for a user, newest first.
func (c *Client) ListSessions(ctx context.Context, userID string, limit int) ([]Session, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("uid", userID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/sessions/v2", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// GetSession returns one session by its "userid:sessionid" identifier.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	if err := c.do(ctx, http.MethodGet, "/sessions/v2/"+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	if err := c.throttle.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Basic "+c.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fullstory request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s returned %d", ErrAPIStatus, method, path, resp.StatusCode)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
