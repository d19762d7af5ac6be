// Package source lists the DokuWiki repositories that feed a migration run.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultURL is the first page of the Door43 organisation listing
const DefaultURL = "https://api.github.com/users/Door43/repos"

// Repo is one repository as reported by the listing API
type Repo struct {
	Name     string `json:"name"`
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

// Lister streams repositories page by page
type Lister interface {
	List(ctx context.Context, fn func(Repo) error) error
}

// ErrStop may be returned from the List callback to end the listing early
var ErrStop = errors.New("stop listing")

// Config holds GitHub listing configuration
type Config struct {
	URL            string
	TokenFile      string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// GitHub pages through a GitHub repository listing following Link headers
type GitHub struct {
	httpClient     *http.Client
	url            string
	token          string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger
}

// NewGitHub creates a lister. A missing token file is not an error; the
// listing then runs unauthenticated.
func NewGitHub(cfg Config, logger *zap.Logger) (*GitHub, error) {
	token, err := readToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &GitHub{
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		url:            cfg.URL,
		token:          token,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With(zap.String("source", "github")),
	}, nil
}

func readToken(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// List calls fn for every repository on every page
func (g *GitHub) List(ctx context.Context, fn func(Repo) error) error {
	url := g.url
	page := 0
	for url != "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		repos, next, err := g.fetchPage(ctx, url)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page, err)
		}

		g.logger.Debug("Fetched page",
			zap.Int("page", page),
			zap.Int("repos", len(repos)),
		)

		for _, r := range repos {
			if err := fn(r); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}

		url = next
		page++
	}
	return nil
}

func (g *GitHub) fetchPage(ctx context.Context, url string) ([]Repo, string, error) {
	var (
		repos []Repo
		next  string
		err   error
	)

	attempt := 1
	for ; attempt <= g.maxAttempts; attempt++ {
		repos, next, err = g.doRequest(ctx, url)
		if err == nil {
			return repos, next, nil
		}

		if !retriable(err) || attempt == g.maxAttempts {
			break
		}

		backoff := g.calculateBackoff(attempt)
		g.logger.Warn("Request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, "", fmt.Errorf("after %d attempts: %w", attempt, err)
}

func (g *GitHub) doRequest(ctx context.Context, url string) ([]Repo, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "dw2rc/1.0")
	if g.token != "" {
		req.Header.Set("Authorization", "token "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &StatusError{StatusCode: resp.StatusCode}
	}

	var repos []Repo
	if err := json.NewDecoder(resp.Body).Decode(&repos); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}

	return repos, NextLink(resp.Header.Get("Link")), nil
}

// StatusError is a non-200 reply from the listing API
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

// retriable is false for client errors other than rate limiting
func retriable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return true
}

func (g *GitHub) calculateBackoff(attempt int) time.Duration {
	backoff := g.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if g.maxBackoff > 0 && backoff > g.maxBackoff {
		backoff = g.maxBackoff
	}
	return backoff
}

var linkPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="([^"]+)"`)

// NextLink extracts the rel="next" URL from a Link header
func NextLink(header string) string {
	for _, m := range linkPattern.FindAllStringSubmatch(header, -1) {
		for _, rel := range strings.Fields(m[2]) {
			if rel == "next" {
				return m[1]
			}
		}
	}
	return ""
}

// Static lists a fixed set of repositories
type Static []Repo

// List calls fn for each repository
func (s Static) List(ctx context.Context, fn func(Repo) error) error {
	for _, r := range s {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}
