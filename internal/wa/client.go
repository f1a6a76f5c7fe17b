// Package wa reads chats and message history from a hosted WhatsApp
// gateway speaking the GreenAPI REST dialect.
package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcal/internal/config"
	"github.com/matheus3301/wppcal/internal/retry"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

const (
	ConnectTimeout = 30 * time.Second
	ReadTimeout    = 60 * time.Second

	maxBodyBytes = 32 << 20
)

// Options configures a Client.
type Options struct {
	APIURL      string
	InstanceID  string
	Token       string
	PageSize    int
	MaxMessages int
	// HTTPClient defaults to one with the connect/read timeouts above.
	HTTPClient *http.Client
	// Policy defaults to retry.Default().
	Policy *retry.Policy
}

// Client talks to one gateway instance. Safe for concurrent use.
type Client struct {
	baseURL     string
	instanceID  string
	token       string
	pageSize    int
	maxMessages int
	http        *http.Client
	policy      retry.Policy
	schemas     *schemas
	log         *zap.Logger
}

// NewHTTPClient returns an http.Client with a 30s dial timeout and a 60s
// response header timeout.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{Timeout: ConnectTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   ConnectTimeout,
			ResponseHeaderTimeout: ReadTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

// New builds a client.
func New(opts Options, log *zap.Logger) (*Client, error) {
	if opts.APIURL == "" || opts.InstanceID == "" || opts.Token == "" {
		return nil, syncerr.Newf(syncerr.ConfigError, "wa.New", "api url, instance id and token are required")
	}
	sch, err := loadSchemas()
	if err != nil {
		return nil, fmt.Errorf("load gateway schemas: %w", err)
	}
	c := &Client{
		baseURL:     strings.TrimRight(opts.APIURL, "/"),
		instanceID:  opts.InstanceID,
		token:       opts.Token,
		pageSize:    opts.PageSize,
		maxMessages: opts.MaxMessages,
		http:        opts.HTTPClient,
		policy:      retry.Default(),
		schemas:     sch,
		log:         log,
	}
	if c.pageSize <= 0 {
		c.pageSize = 100
	}
	if c.maxMessages <= 0 {
		c.maxMessages = 5000
	}
	if c.http == nil {
		c.http = NewHTTPClient()
	}
	if opts.Policy != nil {
		c.policy = *opts.Policy
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c, nil
}

// NewFromConfig builds a client from the [chat] config block.
func NewFromConfig(cfg config.ChatConfig, log *zap.Logger) (*Client, error) {
	return New(Options{
		APIURL:      cfg.APIURL,
		InstanceID:  cfg.InstanceID,
		Token:       cfg.Token,
		PageSize:    cfg.PageSize,
		MaxMessages: cfg.MaxMessagesPerSync,
	}, log)
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/waInstance%s/%s/%s", c.baseURL, c.instanceID, method, c.token)
}

// call performs one gateway method under the retry policy and returns the
// raw response body. The token never appears in errors or logs.
func (c *Client) call(ctx context.Context, method string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode %s request: %w", method, err)
		}
	}

	return retry.Do(ctx, c.policy, c.log, method, func(ctx context.Context, attempt int) retry.Result[[]byte] {
		httpMethod := http.MethodGet
		var rdr io.Reader
		if payload != nil {
			httpMethod = http.MethodPost
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, httpMethod, c.methodURL(method), rdr)
		if err != nil {
			return retry.Stop[[]byte](fmt.Errorf("build %s request: %w", method, err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Stop[[]byte](ctx.Err())
			}
			return retry.Again[[]byte](syncerr.New(syncerr.UpstreamUnavailable, method, redact(err, c.token)), 0)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return retry.Again[[]byte](syncerr.New(syncerr.UpstreamUnavailable, method, redact(err, c.token)), 0)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return retry.Stop[[]byte](syncerr.Newf(syncerr.UpstreamUnauthorized, method, "HTTP %d", resp.StatusCode))
		case retry.FromStatus(resp.StatusCode) == retry.Retryable:
			return retry.Again[[]byte](
				syncerr.Newf(syncerr.UpstreamUnavailable, method, "HTTP %d: %s", resp.StatusCode, snippet(raw)),
				retry.RetryAfter(resp.Header, time.Now()))
		case resp.StatusCode >= 300:
			return retry.Stop[[]byte](syncerr.Newf(syncerr.UpstreamMalformed, method, "HTTP %d: %s", resp.StatusCode, snippet(raw)))
		}
		return retry.Ok(raw)
	})
}

// redact strips the API token from transport errors, which embed the URL.
func redact(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "***"))
}

func snippet(b []byte) string {
	const n = 200
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[:n] + "..."
	}
	return s
}
