package github

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
)

// Format is an archive packaging served by the upstream.
type Format string

const (
	FormatTarball Format = "tarball"
	FormatZipball Format = "zipball"
)

// PlatformFormat returns zipball on windows and tarball elsewhere.
func PlatformFormat() Format {
	if runtime.GOOS == "windows" {
		return FormatZipball
	}
	return FormatTarball
}

// Ext returns the file extension for the format.
func (f Format) Ext() string {
	if f == FormatZipball {
		return ".zip"
	}
	return ".tar.gz"
}

// ArchiveURL returns the REST archive endpoint for ref. It accepts bearer
// tokens and redirects to the download host.
func (c *Client) ArchiveURL(owner, repo, ref string, f Format) string {
	return fmt.Sprintf("%s/repos/%s/%s/%s/%s", c.apiURL, url.PathEscape(owner), url.PathEscape(repo), f, escapeRef(ref))
}

// WebArchiveURL returns the browser archive link for ref on the origin
// server. Mirrors relay this form.
func (r Repo) WebArchiveURL(ref string, f Format) string {
	return fmt.Sprintf("%s/archive/%s%s", r.HTTPSURL(), escapeRef(ref), f.Ext())
}

// escapeRef escapes each segment of a slash-separated ref.
func escapeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
