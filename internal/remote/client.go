// Package remote talks to the Gogs/Gitea compatible git host that receives
// converted repositories.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Host is the subset of the hosting API the upload reconciler needs
type Host interface {
	RepositoryExists(ctx context.Context, org, name string) (bool, error)
	CreateRepository(ctx context.Context, org, name string) error
	CloneURL(org, name string) string
}

// APIError reports a failed or unexpected hosting API call
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s failed: HTTP %d", e.Op, e.StatusCode)
	}
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Config holds hosting API configuration
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// CloneBase overrides the URL used for git remotes, e.g. an ssh host
	CloneBase string
}

// Client wraps HTTP calls to the hosting API
type Client struct {
	baseURL   string
	cloneBase string
	token     string
	http      *http.Client
	logger    *zap.Logger
}

// New creates a new hosting API client
func New(cfg Config, logger *zap.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	clone := strings.TrimRight(cfg.CloneBase, "/")
	if clone == "" {
		clone = base
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:   base,
		cloneBase: clone,
		token:     cfg.Token,
		http:      &http.Client{Timeout: timeout},
		logger:    logger.With(zap.String("host", base)),
	}
}

type repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// RepositoryExists reports whether org/name exists on the host
func (c *Client) RepositoryExists(ctx context.Context, org, name string) (bool, error) {
	op := fmt.Sprintf("check repository %s/%s", org, name)
	path := fmt.Sprintf("/api/v1/repos/%s/%s", url.PathEscape(org), url.PathEscape(name))

	data, status, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return false, &APIError{Op: op, Err: err}
	}

	switch status {
	case http.StatusOK:
		var repo repository
		if err := json.Unmarshal(data, &repo); err != nil {
			return false, &APIError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
		}
		return repo.ID != 0 || repo.FullName != "", nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, &APIError{Op: op, StatusCode: status, Body: snippet(data)}
	}
}

// CreateRepository creates org/name. The host must echo the full name
// back for the call to count as a success.
func (c *Client) CreateRepository(ctx context.Context, org, name string) error {
	op := fmt.Sprintf("create repository %s/%s", org, name)
	path := fmt.Sprintf("/api/v1/org/%s/repos", url.PathEscape(org))
	form := url.Values{"name": {name}}

	data, status, err := c.do(ctx, http.MethodPost, path, form)
	if err != nil {
		return &APIError{Op: op, Err: err}
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return &APIError{Op: op, StatusCode: status, Body: snippet(data)}
	}

	var repo repository
	if err := json.Unmarshal(data, &repo); err != nil {
		return &APIError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	if want := org + "/" + name; !strings.EqualFold(repo.FullName, want) {
		return &APIError{Op: op, StatusCode: status, Body: fmt.Sprintf("unexpected full_name %q", repo.FullName)}
	}

	c.logger.Info("Created repository", zap.String("repo", repo.FullName))
	return nil
}

// CloneURL returns the git remote for org/name
func (c *Client) CloneURL(org, name string) string {
	if strings.Contains(c.cloneBase, "@") && !strings.Contains(c.cloneBase, "://") {
		return fmt.Sprintf("%s:%s/%s.git", c.cloneBase, org, name)
	}
	return fmt.Sprintf("%s/%s/%s.git", c.cloneBase, org, name)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	c.logger.Debug("Hosting API request", zap.String("method", method), zap.String("path", path))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

const maxSnippet = 200

// snippet trims a response body for error messages, cutting on a rune boundary
func snippet(data []byte) string {
	s := strings.ToValidUTF8(strings.TrimSpace(string(data)), "\uFFFD")
	if len(s) <= maxSnippet {
		return s
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
