package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"

	"lararun/internal/apperr"
)

const BaseURL = "https://www.strava.com/api/v3"

// APIError is a non-2xx response from the Strava API
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("strava API error %d: %s", e.StatusCode, e.Body)
}

// classify wraps an API error so rate limits and server errors are retryable.
func classify(path string, e *APIError) error {
	msg := "GET " + path
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return apperr.Transient(apperr.CodeUpstream, msg, e)
	}
	return apperr.Permanent(apperr.CodeUpstream, msg, e)
}

// Client calls the Strava API on behalf of one athlete.
type Client struct {
	httpClient  *http.Client
	rateLimiter *RateLimiter
	baseURL     string
}

// Option customises a Client
type Option func(*Client)

// WithBaseURL points the client at another API root (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithRateLimiter shares one limiter across clients for the same app.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *Client) { c.rateLimiter = rl }
}

// NewClient authenticates requests with tokenSource, which refreshes the
// athlete's token as needed.
func NewClient(ctx context.Context, tokenSource oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		httpClient:  oauth2.NewClient(ctx, tokenSource),
		rateLimiter: NewRateLimiter(),
		baseURL:     BaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListActivities fetches the first page of the athlete's activities, newest
// first.
func (c *Client) ListActivities(ctx context.Context, limit int) ([]Activity, error) {
	params := url.Values{
		"page":     {"1"},
		"per_page": {strconv.Itoa(limit)},
	}
	var activities []Activity
	if err := c.getJSON(ctx, "/athlete/activities", params, &activities); err != nil {
		return nil, err
	}
	return activities, nil
}

// GetActivityZones fetches the zone breakdown for an activity. It returns
// nil without error when Strava has no zone data for it.
func (c *Client) GetActivityZones(ctx context.Context, activityID int64) ([]ActivityZone, error) {
	var zones []ActivityZone
	err := c.getJSON(ctx, fmt.Sprintf("/activities/%d/zones", activityID), nil, &zones)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return zones, nil
}

func (c *Client) RateLimitStatus() (shortRemaining, dailyRemaining int) {
	return c.rateLimiter.Status()
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return err
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Transient(apperr.CodeUpstream, "GET "+path, err)
	}
	defer resp.Body.Close()

	c.rateLimiter.UpdateFromHeaders(resp.Header)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classify(path, &APIError{StatusCode: resp.StatusCode, Body: string(body)})
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
