package mirror

import (
	"errors"
	"net/url"
	"strings"

	"github.com/BadgerOps/repofetch/internal/fetcherr"
	"github.com/BadgerOps/repofetch/internal/safety"
)

var errMissingHost = errors.New("URL host is required")

// ProxyURL is the outcome of translating an origin URL through a mirror.
type ProxyURL struct {
	URL             safety.SecretURL
	Supported       bool
	HasEmbeddedAuth bool
}

// IsSupported reports whether hostname equals, or is a subdomain of, one of
// the mirror's supported hosts.
func (m *Mirror) IsSupported(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	if hostname == "" {
		return false
	}
	for _, h := range m.supportedHosts {
		if hostname == h || strings.HasSuffix(hostname, "."+h) {
			return true
		}
	}
	return false
}

// ToProxyURL rewrites originalURL to be fetched through the mirror as
// "<base>/<originalURL>". When the origin host is not supported the original
// URL is returned with Supported false; that is not an error and callers
// should go direct.
func (m *Mirror) ToProxyURL(originalURL string) (ProxyURL, error) {
	u, err := url.Parse(originalURL)
	if err != nil || u.Host == "" {
		if err == nil {
			err = errMissingHost
		}
		return ProxyURL{}, &fetcherr.ConfigurationError{Setting: "origin URL", Err: err}
	}

	if !m.IsSupported(u.Hostname()) {
		return ProxyURL{URL: safety.NewSecretURL(originalURL)}, nil
	}

	base, err := m.authenticatedBase()
	if err != nil {
		return ProxyURL{}, &fetcherr.ConfigurationError{Setting: "mirror URL", Err: err}
	}

	return ProxyURL{
		URL:             safety.NewSecretURL(base + "/" + originalURL),
		Supported:       true,
		HasEmbeddedAuth: m.HasCredentials(),
	}, nil
}

// Translate is ToProxyURL for callers that only need the usable URL. It
// returns fetcherr.ErrUnsupportedMirror when the origin host is not relayed.
func (m *Mirror) Translate(originalURL string) (safety.SecretURL, error) {
	p, err := m.ToProxyURL(originalURL)
	if err != nil {
		return safety.SecretURL{}, err
	}
	if !p.Supported {
		return safety.SecretURL{}, fetcherr.ErrUnsupportedMirror
	}
	return p.URL, nil
}
