package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNextLink(t *testing.T) {
	header := `<https://api.github.com/user/1/repos?page=2>; rel="next", <https://api.github.com/user/1/repos?page=5>; rel="last"`
	assert.Equal(t, "https://api.github.com/user/1/repos?page=2", NextLink(header))
	assert.Equal(t, "", NextLink(`<https://x/repos?page=1>; rel="prev"`))
	assert.Equal(t, "", NextLink(""))
}

func TestGitHubListFollowsPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token secret", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "":
			w.Header().Set("Link", fmt.Sprintf(`<%s/repos?page=2>; rel="next"`, srv.URL))
			fmt.Fprint(w, `[{"name":"d43-aa","full_name":"Door43/d43-aa","html_url":"https://github.com/Door43/d43-aa"}]`)
		case "2":
			fmt.Fprint(w, `[{"name":"d43-bb","full_name":"Door43/d43-bb","html_url":"https://github.com/Door43/d43-bb"},{"name":"tools"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("secret\n"), 0o600))

	g, err := NewGitHub(Config{URL: srv.URL + "/repos", TokenFile: tokenFile, Timeout: time.Second, MaxAttempts: 1}, zap.NewNop())
	require.NoError(t, err)

	var names []string
	err = g.List(context.Background(), func(r Repo) error {
		names = append(names, r.Name)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"d43-aa", "d43-bb", "tools"}, names)
}

func TestGitHubListRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[{"name":"d43-aa"}]`)
	}))
	defer srv.Close()

	g, err := NewGitHub(Config{URL: srv.URL, MaxAttempts: 3, InitialBackoff: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	var n int
	require.NoError(t, g.List(context.Background(), func(Repo) error { n++; return nil }))
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGitHubListGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	g, err := NewGitHub(Config{URL: srv.URL, MaxAttempts: 2, InitialBackoff: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	err = g.List(context.Background(), func(Repo) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestGitHubListClientErrorNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound} {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(status)
		}))

		g, err := NewGitHub(Config{URL: srv.URL, MaxAttempts: 3, InitialBackoff: time.Millisecond}, zap.NewNop())
		require.NoError(t, err)

		err = g.List(context.Background(), func(Repo) error { return nil })
		srv.Close()

		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, status, se.StatusCode)
		assert.Contains(t, err.Error(), "after 1 attempts")
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "status %d", status)
	}
}

func TestGitHubListRateLimitRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[{"name":"d43-aa"}]`)
	}))
	defer srv.Close()

	g, err := NewGitHub(Config{URL: srv.URL, MaxAttempts: 3, InitialBackoff: time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, g.List(context.Background(), func(Repo) error { return nil }))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStaticStop(t *testing.T) {
	repos := Static{{Name: "a"}, {Name: "b"}, {Name: "c"}}
	var seen []string
	err := repos.List(context.Background(), func(r Repo) error {
		seen = append(seen, r.Name)
		if r.Name == "b" {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
}
