// Package scraper recovers the chat endpoint's "validated" token from the
// site's client-side script bundles.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ErrTokenNotFound is returned when no candidate bundle contains a token.
var ErrTokenNotFound = errors.New("scraper: token not found")

const maxBodyBytes = 16 << 20

var (
	bundlePattern = regexp.MustCompile(`static/chunks/\d{4}-[a-fA-F0-9]+\.js`)
	// The bundle assigns the token to the variable w as a double-quoted UUID.
	tokenPattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_$])w="([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})"`)
)

// Scraper fetches the landing page, then each candidate bundle in order,
// and returns the first token found. It never retries.
type Scraper struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
	logger     *slog.Logger
}

type Option func(*Scraper)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Scraper) {
		if httpClient != nil {
			s.httpClient = httpClient
		}
	}
}

// WithHeaders sets headers sent with every fetch.
func WithHeaders(headers map[string]string) Option {
	return func(s *Scraper) {
		s.headers = headers
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scraper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(baseURL string, opts ...Option) (*Scraper, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("scraper: base URL must not be empty")
	}
	s := &Scraper{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Extract returns the first token found in the site's bundles.
func (s *Scraper) Extract(ctx context.Context) (string, error) {
	page, err := s.fetch(ctx, s.baseURL)
	if err != nil {
		return "", fmt.Errorf("scraper: landing page: %w", err)
	}
	candidates := BundleURLs(s.baseURL, page)
	s.logger.Debug("found bundle candidates", "count", len(candidates))

	for _, u := range candidates {
		script, err := s.fetch(ctx, u)
		if err != nil {
			s.logger.Debug("skipping bundle", "url", u, "err", err)
			continue
		}
		if tok, ok := FindToken(script); ok {
			s.logger.Debug("token found", "url", u)
			return tok, nil
		}
	}
	return "", ErrTokenNotFound
}

// BundleURLs returns the script bundle URLs referenced by page, resolved
// under baseURL's /_next/ prefix, in order of first appearance.
func BundleURLs(baseURL, page string) []string {
	baseURL = strings.TrimRight(baseURL, "/")
	matches := bundlePattern.FindAllString(page, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, baseURL+"/_next/"+m)
	}
	return out
}

// FindToken returns the first UUID assigned to w.
func FindToken(script string) (string, bool) {
	m := tokenPattern.FindStringSubmatch(script)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func (s *Scraper) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	// The transport only decompresses encodings it requested itself.
	req.Header.Del("Accept-Encoding")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", fmt.Errorf("unexpected status %d from %s", res.StatusCode, url)
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(buf), nil
}
