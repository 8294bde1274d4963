package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const (
	StravaAuthURL  = "https://www.strava.com/oauth/authorize"
	StravaTokenURL = "https://www.strava.com/oauth/token"

	// RefreshWindow is how close to expiry a token is refreshed proactively.
	RefreshWindow = 5 * time.Minute
)

// Config holds the application's Strava client credentials.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // defaults to StravaTokenURL
}

// NewOAuthConfig builds the oauth2 config used to refresh user tokens.
// Strava expects the client credentials in the form body.
func NewOAuthConfig(cfg Config) *oauth2.Config {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = StravaTokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   StravaAuthURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"read,activity:read_all"},
	}
}

// TokenSource hands out a user's Strava token, refreshing it when it is
// expired or about to expire and persisting the new token through onRefresh.
type TokenSource struct {
	ctx       context.Context
	config    *oauth2.Config
	token     *oauth2.Token
	onRefresh func(context.Context, *oauth2.Token) error
	mu        sync.Mutex
	now       func() time.Time
}

// NewTokenSource creates a new TokenSource that will refresh tokens as needed
// and call onRefresh to persist new tokens
func NewTokenSource(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token, onRefresh func(context.Context, *oauth2.Token) error) *TokenSource {
	return &TokenSource{
		ctx:       ctx,
		config:    cfg,
		token:     token,
		onRefresh: onRefresh,
		now:       time.Now,
	}
}

// Token returns a valid token, refreshing if necessary
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.needsRefresh() {
		return ts.token, nil
	}

	if ts.token.RefreshToken == "" {
		return nil, fmt.Errorf("token expired and no refresh token stored")
	}

	// oauth2 only refreshes tokens it considers invalid, so hand it one
	// without an access token to force the exchange.
	src := ts.config.TokenSource(ts.ctx, &oauth2.Token{RefreshToken: ts.token.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing strava token: %w", err)
	}

	if ts.onRefresh != nil {
		if err := ts.onRefresh(ts.ctx, newToken); err != nil {
			return nil, fmt.Errorf("persisting refreshed token: %w", err)
		}
	}

	ts.token = newToken
	return newToken, nil
}

// needsRefresh reports whether the token is missing or expires within
// RefreshWindow. Callers hold mu.
func (ts *TokenSource) needsRefresh() bool {
	if ts.token == nil || ts.token.AccessToken == "" {
		return true
	}
	if ts.token.Expiry.IsZero() {
		return false
	}
	return ts.token.Expiry.Sub(ts.now()) <= RefreshWindow
}
