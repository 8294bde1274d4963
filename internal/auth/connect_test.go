package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		status   int
		wantCode string
		wantErr  bool
	}{
		{name: "success", query: "?state=s1&code=abc", status: http.StatusOK, wantCode: "abc"},
		{name: "state mismatch", query: "?state=other&code=abc", status: http.StatusBadRequest, wantErr: true},
		{name: "denied", query: "?state=s1&error=access_denied", status: http.StatusBadRequest, wantErr: true},
		{name: "missing code", query: "?state=s1", status: http.StatusBadRequest, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(chan callbackResult, 1)
			h := callbackHandler("s1", results)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)

			res := <-results
			if tt.wantErr {
				assert.Error(t, res.err)
				return
			}
			require.NoError(t, res.err)
			assert.Equal(t, tt.wantCode, res.code)
		})
	}
}

func TestAthleteID(t *testing.T) {
	tok := (&oauth2.Token{AccessToken: "a"}).WithExtra(map[string]any{
		"athlete": map[string]any{"id": float64(4242)},
	})
	assert.Equal(t, int64(4242), AthleteID(tok))
	assert.Zero(t, AthleteID(&oauth2.Token{AccessToken: "a"}))
}

func TestCallbackURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8089/callback", CallbackURL(CallbackPort))
}
