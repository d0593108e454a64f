// Package railapi fetches live departure snapshots from the Rail Data
// Marketplace feed.
package railapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusError reports a non-2xx response from the feed.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("railapi: unexpected response %s", e.Status)
}

// Client talks to the live departures endpoints. Every successful
// departures fetch advances the snapshot version, which the cache uses
// to tell fresh data from stale hydrated records.
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
	maxRetries uint64
	dumpDir    string
	log        zerolog.Logger

	version atomic.Int64
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client, mainly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithMaxRetries bounds how many times a failed fetch is retried.
func WithMaxRetries(retries int) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.maxRetries = uint64(retries)
		}
	}
}

// WithDebugDump writes every fetched snapshot into dir for offline
// inspection.
func WithDebugDump(dir string) Option {
	return func(c *Client) {
		c.dumpDir = dir
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

func NewClient(baseURL, key string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		key:        key,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		log:        log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Departures fetches the departure board snapshot for a station and
// returns the raw body together with its snapshot version.
func (c *Client) Departures(ctx context.Context, crs string, numRows int) ([]byte, int64, error) {
	endpoint := fmt.Sprintf("%s/GetDepBoardWithDetails/%s?%s",
		c.baseURL, url.PathEscape(crs), url.Values{
			"numRows":    {fmt.Sprint(numRows)},
			"timeOffset": {"0"},
			"timeWindow": {"120"},
		}.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch departures for %s: %w", crs, err)
	}

	version := c.version.Add(1)
	c.dump(fmt.Sprintf("departures-%d.json", version), body)
	c.log.Debug().
		Str("crs", crs).
		Int64("version", version).
		Int("bytes", len(body)).
		Msg("Fetched departures snapshot")
	return body, version, nil
}

// ReasonCodes fetches the delay and cancellation reason table.
func (c *Client) ReasonCodes(ctx context.Context, endpoint string) ([]byte, error) {
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch reason codes: %w", err)
	}
	c.dump("reason-codes.json", body)
	return body, nil
}

// Version reports the version of the most recent successful fetch.
func (c *Client) Version() int64 {
	return c.version.Load()
}

// get performs one GET with retries. Server errors and transport
// failures back off and retry, client errors fail immediately.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("x-apikey", c.key)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{Code: resp.StatusCode, Status: resp.Status}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}

		body, err = io.ReadAll(resp.Body)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)

	if err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		c.log.Warn().Err(err).Dur("retry_in", next).Msg("Feed request failed")
	}); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) dump(name string, body []byte) {
	if c.dumpDir == "" {
		return
	}
	path := filepath.Join(c.dumpDir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("Failed to write debug dump")
	}
}
