package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/matheus3301/wppcal/internal/syncerr"
)

// Scope is the only permission requested: read and write events.
const Scope = gcal.CalendarEventsScope

// LoadOAuthConfig reads an installed-app client secret downloaded from the
// Google Cloud console.
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, syncerr.New(syncerr.ConfigError, "calendar credentials", err)
	}
	conf, err := google.ConfigFromJSON(raw, Scope)
	if err != nil {
		return nil, syncerr.New(syncerr.ConfigError, "calendar credentials", err)
	}
	return conf, nil
}

// TokenSource hands out the stored token and refreshes it only when it has
// expired or was invalidated. Refreshed tokens are written back to path.
type TokenSource struct {
	mu   sync.Mutex
	ctx  context.Context
	conf *oauth2.Config
	tok  *oauth2.Token
	path string
}

// NewTokenSource loads the token stored at tokenFile.
func NewTokenSource(ctx context.Context, conf *oauth2.Config, tokenFile string) (*TokenSource, error) {
	tok, err := ReadToken(tokenFile)
	if err != nil {
		return nil, syncerr.New(syncerr.ConfigError, "calendar token", err)
	}
	return &TokenSource{ctx: ctx, conf: conf, tok: tok, path: tokenFile}, nil
}

// Token implements oauth2.TokenSource.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.tok.Valid() {
		return ts.tok, nil
	}
	fresh, err := ts.conf.TokenSource(ts.ctx, ts.tok).Token()
	if err != nil {
		return nil, syncerr.New(syncerr.UpstreamUnauthorized, "calendar token refresh", err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = ts.tok.RefreshToken
	}
	ts.tok = fresh
	if err := WriteToken(ts.path, fresh); err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}
	return fresh, nil
}

// Invalidate forces the next Token call to refresh.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	cp := *ts.tok
	cp.AccessToken = ""
	cp.Expiry = time.Unix(1, 0)
	ts.tok = &cp
}

// NewHTTPClient authorizes requests with ts. The transport asks ts for a
// token on every request, so Invalidate takes effect immediately.
func NewHTTPClient(ts oauth2.TokenSource) *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   30 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: &oauth2.Transport{Source: ts, Base: base}}
}

// AuthURL returns the consent page for a first-time authorization.
func AuthURL(conf *oauth2.Config, state string) string {
	return conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func Exchange(ctx context.Context, conf *oauth2.Config, code, tokenFile string) (*oauth2.Token, error) {
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return nil, syncerr.New(syncerr.UpstreamUnauthorized, "calendar exchange", err)
	}
	if err := WriteToken(tokenFile, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// ReadToken loads a JSON-encoded oauth2 token.
func ReadToken(path string) (*oauth2.Token, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return &tok, nil
}

// WriteToken stores tok at path with owner-only permissions.
func WriteToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
