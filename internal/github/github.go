// Package github talks to the upstream code host: default branch lookup
// through the REST API or git smart HTTP, and archive endpoint URLs.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BadgerOps/repofetch/internal/fetcherr"
	"github.com/BadgerOps/repofetch/internal/safety"
)

const (
	// DefaultServerURL is the public GitHub origin.
	DefaultServerURL = "https://github.com"

	apiTimeout          = 30 * time.Second
	maxAPIResponseBytes = 1 << 20
)

// Repo identifies a repository on an origin server.
type Repo struct {
	ServerURL string
	Owner     string
	Name      string
}

// NewRepo builds a Repo, defaulting the server to github.com.
func NewRepo(serverURL, owner, name string) Repo {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return Repo{ServerURL: strings.TrimRight(serverURL, "/"), Owner: owner, Name: name}
}

// HTTPSURL returns "<server>/<owner>/<name>".
func (r Repo) HTTPSURL() string {
	return fmt.Sprintf("%s/%s/%s", r.ServerURL, url.PathEscape(r.Owner), url.PathEscape(r.Name))
}

// Host returns the server host without port.
func (r Repo) Host() string {
	u, err := url.Parse(r.ServerURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// APIURL derives the REST API base for a server: api.github.com for the
// public host, "<server>/api/v3" for Enterprise Server.
func APIURL(serverURL string) string {
	serverURL = strings.TrimRight(serverURL, "/")
	u, err := url.Parse(serverURL)
	if err == nil && strings.EqualFold(u.Hostname(), "github.com") {
		return "https://api.github.com"
	}
	return serverURL + "/api/v3"
}

// Client is a minimal REST client for the calls acquisition needs.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	serverURL  string
	apiURL     string
	token      string
}

// NewClient creates a client for serverURL. token may be empty.
func NewClient(serverURL, token string, logger *slog.Logger) *Client {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return &Client{
		httpClient: safety.NewHTTPClient(apiTimeout),
		logger:     logger,
		serverURL:  strings.TrimRight(serverURL, "/"),
		apiURL:     APIURL(serverURL),
		token:      token,
	}
}

// WithAPIURL overrides the derived API base.
func (c *Client) WithAPIURL(apiURL string) *Client {
	c.apiURL = strings.TrimRight(apiURL, "/")
	return c
}

type repositoryResponse struct {
	DefaultBranch string `json:"default_branch"`
}

// DefaultBranch returns the repository's default branch name. A repository
// the API does not know yields a *fetcherr.NotFoundError.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s", c.apiURL, url.PathEscape(owner), url.PathEscape(repo))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var resp repositoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding repository response: %w", err)
	}
	if resp.DefaultBranch == "" {
		return "", fmt.Errorf("repository %s/%s reported no default branch", owner, repo)
	}

	c.logger.Debug("resolved default branch", "repo", owner+"/"+repo, "branch", resp.DefaultBranch)
	return resp.DefaultBranch, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", safety.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fetcherr.Classify("github api", endpoint, fmt.Errorf("executing request: %w", err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fetcherr.Classify("github api", endpoint, &fetcherr.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(msg),
		})
	}

	body, err := safety.ReadAllWithLimit(resp.Body, maxAPIResponseBytes)
	if err != nil {
		if errors.Is(err, safety.ErrBodyTooLarge) {
			return nil, fmt.Errorf("response exceeded %d bytes for %s: %w", maxAPIResponseBytes, endpoint, err)
		}
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}
