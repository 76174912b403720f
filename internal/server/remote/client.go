// Package remote реализует клиент удаленного индекса пакетов.
//
// Поддерживается протокол каталога (all-packages, changed-packages),
// manifest проекта и резервный разбор простой HTML-страницы индекса.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound возвращается на 404 от remote
	ErrNotFound = errors.New("not found on remote")
	// ErrProtocolUnsupported - протокол каталога не поддерживается, нужен fallback
	ErrProtocolUnsupported = errors.New("catalog protocol not supported")
)

const (
	defaultConcurrency  = 8
	defaultAttempts     = 3
	defaultFetchTimeout = 60 * time.Second
	defaultBackoff      = 500 * time.Millisecond
	maxMetadataSize     = 64 << 20
)

// Options настраивает клиента
type Options struct {
	HTTPClient   *http.Client
	Concurrency  int
	Attempts     int
	FetchTimeout time.Duration
	Backoff      time.Duration
}

// Client ходит в remote индекс
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	concurrency  int
	attempts     int
	fetchTimeout time.Duration
	backoff      time.Duration
}

// NewClient создает клиента remote индекса
func NewClient(logger *slog.Logger, opts Options) *Client {
	c := &Client{
		httpClient:   opts.HTTPClient,
		logger:       logger,
		concurrency:  opts.Concurrency,
		attempts:     opts.Attempts,
		fetchTimeout: opts.FetchTimeout,
		backoff:      opts.Backoff,
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	if c.attempts <= 0 {
		c.attempts = defaultAttempts
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = defaultFetchTimeout
	}
	if c.backoff <= 0 {
		c.backoff = defaultBackoff
	}

	return c
}

// Concurrency возвращает размер пула одновременных запросов
func (c *Client) Concurrency() int {
	return c.concurrency
}

// get выполняет GET с таймаутом на один запрос и читает тело целиком
func (c *Client) get(ctx context.Context, url, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s failed: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request %s failed with status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, nil
}

// Download открывает поток байтов артефакта.
// Таймаут на запрос действует до закрытия возвращенного ReadCloser.
func (c *Client) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("download %s failed: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
		}
		return nil, fmt.Errorf("download %s failed with status %d", url, resp.StatusCode)
	}

	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelReadCloser) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}

func joinURL(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
