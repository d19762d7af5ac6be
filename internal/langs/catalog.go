// Package langs holds the language metadata table fetched once per process
// and shared read-only by converters and migrations.
package langs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Language is one entry of the language names export
type Language struct {
	Code        string `json:"lc"`
	Name        string `json:"ln"`
	AngloName   string `json:"ang"`
	Direction   string `json:"ld"`
	Gateway     bool   `json:"gw,omitempty"`
	CountryCode string `json:"cc,omitempty"`
}

// Catalog is an immutable lookup table keyed by language code
type Catalog struct {
	byCode map[string]Language
}

// NewCatalog builds a catalog from a list of languages
func NewCatalog(list []Language) *Catalog {
	byCode := make(map[string]Language, len(list))
	for _, l := range list {
		if l.Code == "" {
			continue
		}
		if l.Direction == "" {
			l.Direction = "ltr"
		}
		byCode[l.Code] = l
	}
	return &Catalog{byCode: byCode}
}

// Lookup returns the metadata for a language code
func (c *Catalog) Lookup(code string) (Language, bool) {
	if c == nil {
		return Language{}, false
	}
	l, ok := c.byCode[code]
	return l, ok
}

// Len returns the number of languages
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byCode)
}

// Load reads the catalog from an http(s) URL or a local file path
func Load(ctx context.Context, location string, timeout time.Duration) (*Catalog, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		data, err = fetch(ctx, location, timeout)
	} else {
		data, err = os.ReadFile(location)
	}
	if err != nil {
		return nil, fmt.Errorf("load language catalog: %w", err)
	}

	var list []Language
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode language catalog: %w", err)
	}
	return NewCatalog(list), nil
}

func fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
