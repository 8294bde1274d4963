package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTokenServer(t *testing.T, calls *int32, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))

		if status != http.StatusOK {
			http.Error(w, `{"message":"Bad Request"}`, status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"new-access","refresh_token":"new-refresh","expires_in":21600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSource_RefreshWindow(t *testing.T) {
	tests := []struct {
		name        string
		expiresIn   time.Duration
		wantRefresh bool
	}{
		{"valid for hours", 3 * time.Hour, false},
		{"expires in six minutes", 6 * time.Minute, false},
		{"expires in four minutes", 4 * time.Minute, true},
		{"already expired", -time.Hour, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := newTokenServer(t, &calls, http.StatusOK)
			cfg := NewOAuthConfig(Config{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL})

			var persisted *oauth2.Token
			ts := NewTokenSource(context.Background(), cfg, &oauth2.Token{
				AccessToken:  "old-access",
				RefreshToken: "old-refresh",
				Expiry:       time.Now().Add(tt.expiresIn),
			}, func(_ context.Context, tok *oauth2.Token) error {
				persisted = tok
				return nil
			})

			assert.Equal(t, tt.wantRefresh, ts.needsRefresh())

			tok, err := ts.Token()
			require.NoError(t, err)

			if tt.wantRefresh {
				assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
				assert.Equal(t, "new-access", tok.AccessToken)
				require.NotNil(t, persisted)
				assert.Equal(t, "new-refresh", persisted.RefreshToken)
				assert.False(t, ts.needsRefresh())
			} else {
				assert.Zero(t, atomic.LoadInt32(&calls))
				assert.Equal(t, "old-access", tok.AccessToken)
				assert.Nil(t, persisted)
			}
		})
	}
}

func TestTokenSource_RefreshFailure(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusBadRequest)
	cfg := NewOAuthConfig(Config{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL})

	ts := NewTokenSource(context.Background(), cfg, &oauth2.Token{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		Expiry:       time.Now().Add(-time.Minute),
	}, nil)

	_, err := ts.Token()
	require.Error(t, err)
	assert.Equal(t, "old-access", ts.token.AccessToken)
}

func TestTokenSource_PersistFailure(t *testing.T) {
	var calls int32
	srv := newTokenServer(t, &calls, http.StatusOK)
	cfg := NewOAuthConfig(Config{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL})

	ts := NewTokenSource(context.Background(), cfg, &oauth2.Token{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		Expiry:       time.Now(),
	}, func(context.Context, *oauth2.Token) error { return errors.New("db down") })

	_, err := ts.Token()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persisting refreshed token")
}
