// Package odata looks up product records in an OData product catalogue and
// turns them into remote contexts for STAC Items.
package odata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentic-research/stacgen/api"
	"github.com/agentic-research/stacgen/internal/stac"
	"github.com/cenkalti/backoff/v4"
)

// Defaults for the lookup policy.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
)

// ErrNotFound is returned when the catalogue has no record for a product.
var ErrNotFound = errors.New("product not found in catalogue")

// StatusError is a non-2xx catalogue response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("catalogue returned %d", e.Status)
	}
	return fmt.Sprintf("catalogue returned %d: %s", e.Status, e.Body)
}

// Client queries the catalogue. It implements stac.RemoteProvider.
type Client struct {
	catalogueURL string
	zipperURL    string
	oidcURL      string
	s3Platform   string

	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts int
	interval    time.Duration
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithZipperURL sets the base URL used in asset hrefs. Defaults to the
// catalogue URL.
func WithZipperURL(u string) Option { return func(c *Client) { c.zipperURL = u } }

// WithOIDCURL sets the OpenID Connect discovery URL advertised in auth:schemes.
func WithOIDCURL(u string) Option { return func(c *Client) { c.oidcURL = u } }

// WithS3Platform sets the object-store endpoint advertised in storage:schemes.
func WithS3Platform(u string) Option { return func(c *Client) { c.s3Platform = u } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpClient = h } }

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

// WithMaxAttempts bounds the number of attempts, including the first.
func WithMaxAttempts(n int) Option { return func(c *Client) { c.maxAttempts = n } }

// WithRetryInterval sets the initial backoff interval.
func WithRetryInterval(d time.Duration) Option { return func(c *Client) { c.interval = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// New returns a client for the catalogue at catalogueURL.
func New(catalogueURL string, opts ...Option) *Client {
	c := &Client{
		catalogueURL: strings.TrimRight(catalogueURL, "/"),
		httpClient:   http.DefaultClient,
		timeout:      DefaultTimeout,
		maxAttempts:  DefaultMaxAttempts,
		interval:     500 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.zipperURL == "" {
		c.zipperURL = c.catalogueURL
	}
	if c.maxAttempts < 1 {
		c.maxAttempts = 1
	}
	return c
}

// record is one entry of a Products query.
type record struct {
	ID            string    `json:"Id"`
	Name          string    `json:"Name"`
	S3Path        string    `json:"S3Path"`
	OriginDate    time.Time `json:"OriginDate"`
	ContentLength int64     `json:"ContentLength"`
	Checksum      []struct {
		Value     string `json:"Value"`
		Algorithm string `json:"Algorithm"`
	} `json:"Checksum"`
}

type response struct {
	Value []record `json:"value"`
}

// QueryURL returns the catalogue query for a product name.
func (c *Client) QueryURL(name string) string {
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("Name eq '%s'", strings.ReplaceAll(name, "'", "''")))
	q.Set("$top", "1")
	return c.catalogueURL + "/odata/v1/Products?" + q.Encode()
}

// Lookup fetches the remote context of the product at productPath. Every
// failure is an *api.RemoteContextError.
func (c *Client) Lookup(ctx context.Context, productPath string) (*stac.RemoteContext, error) {
	name := filepath.Base(strings.TrimRight(productPath, "/"))
	target := c.QueryURL(name)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	attempt := 0
	rec, err := backoff.RetryNotifyWithData(func() (*record, error) {
		attempt++
		return c.fetch(ctx, target)
	}, policy, func(err error, wait time.Duration) {
		c.logger.Debug("catalogue lookup failed, retrying",
			slog.String("product", name),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
	if err != nil {
		return nil, &api.RemoteContextError{Product: productPath, Err: err}
	}

	rc := &stac.RemoteContext{
		ID:            rec.ID,
		Name:          rec.Name,
		S3Path:        rec.S3Path,
		OriginDate:    rec.OriginDate,
		ContentLength: rec.ContentLength,
		ZipperURL:     c.zipperURL,
		OIDCURL:       c.oidcURL,
		S3Platform:    c.s3Platform,
	}
	for _, sum := range rec.Checksum {
		if strings.EqualFold(sum.Algorithm, "MD5") {
			rc.Checksum = sum.Value
			break
		}
	}
	c.logger.Debug("catalogue lookup", slog.String("product", name), slog.String("id", rc.ID), slog.Int("attempts", attempt))
	return rc, nil
}

// fetch performs one attempt. Errors that retrying cannot fix are permanent.
func (c *Client) fetch(ctx context.Context, target string) (*record, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &StatusError{Status: resp.StatusCode, Body: snippet(body)}
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(&StatusError{Status: resp.StatusCode, Body: snippet(body)})
	case resp.StatusCode != http.StatusOK:
		return nil, backoff.Permanent(&StatusError{Status: resp.StatusCode})
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode catalogue response: %w", err))
	}
	if len(out.Value) == 0 || out.Value[0].ID == "" {
		return nil, backoff.Permanent(ErrNotFound)
	}
	return &out.Value[0], nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
