package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	// CallbackPort is where the local authorization callback listens
	CallbackPort = 8089
	// ConnectTimeout bounds how long the user has to approve access
	ConnectTimeout = 5 * time.Minute
)

// Grant is the result of a completed authorization.
type Grant struct {
	Token     *oauth2.Token
	AthleteID int64
}

// CallbackURL is the redirect URL registered with Strava for port.
func CallbackURL(port int) string {
	return fmt.Sprintf("http://localhost:%d/callback", port)
}

// AthleteID reads the athlete id Strava returns alongside the token.
func AthleteID(token *oauth2.Token) int64 {
	athlete, ok := token.Extra("athlete").(map[string]any)
	if !ok {
		return 0
	}
	id, _ := athlete["id"].(float64)
	return int64(id)
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler accepts one redirect carrying state and reports the code.
func callbackHandler(state string, results chan<- callbackResult) http.Handler {
	send := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "State mismatch", http.StatusBadRequest)
			send(callbackResult{err: errors.New("authorization state mismatch")})
		case q.Get("error") != "":
			http.Error(w, "Authorization failed", http.StatusBadRequest)
			send(callbackResult{err: fmt.Errorf("authorization denied: %s", q.Get("error"))})
		case q.Get("code") == "":
			http.Error(w, "No authorization code", http.StatusBadRequest)
			send(callbackResult{err: errors.New("callback without authorization code")})
		default:
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, "<!DOCTYPE html><html><body><h1>Strava connected</h1><p>%s</p></body></html>",
				html.EscapeString("You can close this window and return to the terminal."))
			send(callbackResult{code: q.Get("code")})
		}
	})
}

// Connect runs the authorization code flow with a local callback server on
// port. The authorization URL is written to out for the user to open.
func Connect(ctx context.Context, cfg *oauth2.Config, port int, out io.Writer) (*Grant, error) {
	cfg.RedirectURL = CallbackURL(port)
	state := uuid.NewString()
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.Handle("/callback", callbackHandler(state, results))
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			results <- callbackResult{err: fmt.Errorf("callback server: %w", err)}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(out, "\nTo connect Strava, open this URL in your browser:\n\n  %s\n\nWaiting for authorization...\n",
		cfg.AuthCodeURL(state, oauth2.AccessTypeOffline))

	var res callbackResult
	select {
	case res = <-results:
	case <-time.After(ConnectTimeout):
		return nil, fmt.Errorf("authorization timed out after %v", ConnectTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	token, err := cfg.Exchange(ctx, res.code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return &Grant{Token: token, AthleteID: AthleteID(token)}, nil
}
