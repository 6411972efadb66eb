package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/repofetch/internal/fetcherr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAPIURL(t *testing.T) {
	assert.Equal(t, "https://api.github.com", APIURL("https://github.com"))
	assert.Equal(t, "https://api.github.com", APIURL("https://GitHub.com/"))
	assert.Equal(t, "https://ghe.example/api/v3", APIURL("https://ghe.example/"))
}

func TestRepoURLs(t *testing.T) {
	r := NewRepo("", "acme", "widgets")
	assert.Equal(t, "https://github.com/acme/widgets", r.HTTPSURL())
	assert.Equal(t, "github.com", r.Host())
	assert.Equal(t, "acme/widgets", r.String())
	assert.Equal(t, "https://github.com/acme/widgets/archive/refs/heads/main.tar.gz",
		r.WebArchiveURL("refs/heads/main", FormatTarball))
	assert.Equal(t, "https://github.com/acme/widgets/archive/v1.0.zip",
		r.WebArchiveURL("v1.0", FormatZipball))
}

func TestArchiveURL(t *testing.T) {
	c := NewClient("", "", discardLogger())
	assert.Equal(t, "https://api.github.com/repos/acme/widgets/tarball/refs/heads/main",
		c.ArchiveURL("acme", "widgets", "refs/heads/main", FormatTarball))
	assert.Equal(t, "https://api.github.com/repos/acme/widgets/zipball/feature/a%20b",
		c.ArchiveURL("acme", "widgets", "feature/a b", FormatZipball))
}

func TestDefaultBranch(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"full_name":"acme/widgets","default_branch":"main"}`))
	}))
	defer srv.Close()

	c := NewClient("", "tok", discardLogger()).WithAPIURL(srv.URL)
	branch, err := c.DefaultBranch(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.Equal(t, "/repos/acme/widgets", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestDefaultBranchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"not found", http.StatusNotFound, func(t *testing.T, err error) {
			assert.True(t, fetcherr.IsNotFound(err))
		}},
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			var auth *fetcherr.AuthRequiredError
			assert.ErrorAs(t, err, &auth)
		}},
		{"server error", http.StatusBadGateway, func(t *testing.T, err error) {
			var tr *fetcherr.TransientNetworkError
			assert.ErrorAs(t, err, &tr)
			assert.False(t, fetcherr.IsPermanent(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewClient("", "", discardLogger()).WithAPIURL(srv.URL).
				DefaultBranch(context.Background(), "acme", "widgets")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestDefaultBranchMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient("", "", discardLogger()).WithAPIURL(srv.URL).
		DefaultBranch(context.Background(), "acme", "widgets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no default branch")
}

func pktLine(s string) string {
	return fmt.Sprintf("%04x%s", len(s)+4, s)
}

func TestRemoteResolverReadsSymbolicHead(t *testing.T) {
	const sha = "0123456789abcdef0123456789abcdef01234567"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/acme/widgets/info/refs" || r.URL.Query().Get("service") != "git-upload-pack" {
			http.NotFound(w, r)
			return
		}
		var b strings.Builder
		b.WriteString(pktLine("# service=git-upload-pack\n"))
		b.WriteString("0000")
		b.WriteString(pktLine(sha + " HEAD\x00multi_ack symref=HEAD:refs/heads/trunk agent=git/2.43.0\n"))
		b.WriteString(pktLine(sha + " refs/heads/trunk\n"))
		b.WriteString("0000")
		w.Header().Set("Content-Type", "application/x-git-upload-pack-advertisement")
		_, _ = io.WriteString(w, b.String())
	}))
	defer srv.Close()

	ref, err := NewRemoteResolver(srv.URL, "", discardLogger()).DefaultBranch(context.Background(), "acme", "widgets")
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/trunk", ref)
}

func TestRemoteResolverNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewRemoteResolver(srv.URL, "", discardLogger()).DefaultBranch(context.Background(), "acme", "missing")
	require.Error(t, err)
	assert.True(t, fetcherr.IsNotFound(err))
}

func TestRemoteResolverTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	resolver := NewRemoteResolver(srv.URL, "", discardLogger())
	resolver.timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := resolver.DefaultBranch(context.Background(), "acme", "widgets")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "a stalled remote must not hold the caller")
}
