package safety

import (
	"log/slog"
	"regexp"
)

// Mask replaces the userinfo segment of a URL.
const Mask = "*****:*****"

var userinfoPattern = regexp.MustCompile(`://[^/@\s]+@`)

// MaskUserinfo replaces every "user:pass@" segment in s with the fixed mask.
func MaskUserinfo(s string) string {
	return userinfoPattern.ReplaceAllString(s, "://"+Mask+"@")
}

// SecretURL is a URL string that may carry credentials. Every printable
// form is masked; only Reveal returns the usable value.
type SecretURL struct {
	raw string
}

// NewSecretURL wraps raw.
func NewSecretURL(raw string) SecretURL {
	return SecretURL{raw: raw}
}

// Reveal returns the URL with credentials intact, for use on the wire.
func (s SecretURL) Reveal() string { return s.raw }

// String returns the masked form.
func (s SecretURL) String() string { return MaskUserinfo(s.raw) }

// GoString keeps %#v from printing the raw field.
func (s SecretURL) GoString() string { return `safety.SecretURL("` + s.String() + `")` }

// LogValue implements slog.LogValuer.
func (s SecretURL) LogValue() slog.Value { return slog.StringValue(s.String()) }

// HasCredentials reports whether the URL carries a userinfo segment.
func (s SecretURL) HasCredentials() bool { return userinfoPattern.MatchString(s.raw) }

// IsZero reports whether no URL is held.
func (s SecretURL) IsZero() bool { return s.raw == "" }
