package mirror

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BadgerOps/repofetch/internal/fetcherr"
	"github.com/BadgerOps/repofetch/internal/safety"
)

const (
	defaultMirrorTimeout    = 10 * time.Second
	defaultMirrorRetryCount = 2
)

// DefaultSupportedHosts are the origin hosts a mirror relays unless
// configured otherwise. Subdomains match too.
var DefaultSupportedHosts = []string{"github.com", "githubusercontent.com"}

// Mirror describes an accelerating proxy that relays requests to origin
// hosts. Credentials found in the configured base URL are held separately
// and never appear in BaseURL or String.
type Mirror struct {
	baseURL        string
	username       string
	token          string
	supportedHosts []string

	Timeout    time.Duration
	RetryCount int
}

// Option customizes a Mirror at construction.
type Option func(*Mirror)

// WithSupportedHosts replaces the default supported host list.
func WithSupportedHosts(hosts ...string) Option {
	return func(m *Mirror) {
		m.supportedHosts = m.supportedHosts[:0]
		for _, h := range hosts {
			h = strings.ToLower(strings.TrimSpace(h))
			if h != "" {
				m.supportedHosts = append(m.supportedHosts, h)
			}
		}
	}
}

// WithTimeout sets the per-request timeout used when probing this mirror.
func WithTimeout(d time.Duration) Option {
	return func(m *Mirror) { m.Timeout = d }
}

// WithRetryCount sets how many attempts a download through this mirror gets.
func WithRetryCount(n int) Option {
	return func(m *Mirror) { m.RetryCount = n }
}

// New parses rawBase and returns a Mirror. Userinfo in rawBase is split off:
// the username is kept as Username and the password as the token. A base
// with only a username treats it as the token.
func New(rawBase string, opts ...Option) (*Mirror, error) {
	u, err := safety.ParseHTTPURL(strings.TrimSpace(rawBase))
	if err != nil {
		return nil, &fetcherr.ConfigurationError{Setting: "mirror URL", Err: err}
	}

	m := &Mirror{
		supportedHosts: append([]string(nil), DefaultSupportedHosts...),
		Timeout:        defaultMirrorTimeout,
		RetryCount:     defaultMirrorRetryCount,
	}
	if u.User != nil {
		m.username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			m.token = pw
		} else {
			m.token, m.username = m.username, ""
		}
		u.User = nil
	}
	u.RawQuery = ""
	u.Fragment = ""
	m.baseURL = strings.TrimRight(u.String(), "/")

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// BaseURL returns the credential-free base URL. It identifies the mirror.
func (m *Mirror) BaseURL() string { return m.baseURL }

// String returns the credential-free base URL.
func (m *Mirror) String() string { return m.baseURL }

// LogValue implements slog.LogValuer.
func (m *Mirror) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("url", m.baseURL),
		slog.Bool("auth", m.HasCredentials()),
	)
}

// Username returns the username parsed from the base URL, if any.
func (m *Mirror) Username() string { return m.username }

// HasCredentials reports whether the base URL carried userinfo.
func (m *Mirror) HasCredentials() bool { return m.username != "" || m.token != "" }

// SupportedHosts returns a copy of the configured origin hosts.
func (m *Mirror) SupportedHosts() []string {
	return append([]string(nil), m.supportedHosts...)
}

// Equal reports whether two mirrors share a base URL.
func (m *Mirror) Equal(other *Mirror) bool {
	return m != nil && other != nil && m.baseURL == other.baseURL
}

// authenticatedBase returns the base URL with credentials embedded.
func (m *Mirror) authenticatedBase() (string, error) {
	if !m.HasCredentials() {
		return m.baseURL, nil
	}
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing stored mirror URL: %w", err)
	}
	if m.token != "" && m.username != "" {
		u.User = url.UserPassword(m.username, m.token)
	} else if m.token != "" {
		u.User = url.User(m.token)
	} else {
		u.User = url.User(m.username)
	}
	return u.String(), nil
}
