// Package fetcherr defines the error kinds surfaced by repository acquisition.
package fetcherr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnsupportedMirror indicates the origin host is not served by a mirror.
// Callers treat it as "use the direct path", never as a failure.
var ErrUnsupportedMirror = errors.New("origin host not supported by mirror")

// ConfigurationError reports a malformed setting, such as an unparsable
// proxy URL. It is never retried.
type ConfigurationError struct {
	Setting string
	Err     error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Setting, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransientNetworkError wraps a timeout, connection reset or 5xx response.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ArchiveLayoutError reports an extracted archive that does not contain
// exactly one top-level entry.
type ArchiveLayoutError struct {
	Entries []string
}

func (e *ArchiveLayoutError) Error() string {
	return fmt.Sprintf("expected exactly one top-level entry in archive, found %d %v", len(e.Entries), e.Entries)
}

// LimitError reports a response larger than the configured cap. It is
// never retried.
type LimitError struct {
	Err error
}

func (e *LimitError) Error() string { return e.Err.Error() }

func (e *LimitError) Unwrap() error { return e.Err }

// ChecksumError reports downloaded content whose SHA256 differs from the
// expected digest.
type ChecksumError struct {
	Got  string
	Want string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: got %s, expected %s", e.Got, e.Want)
}

// AuthRequiredError reports a request the upstream rejected for missing or
// insufficient credentials.
type AuthRequiredError struct {
	URL string
}

func (e *AuthRequiredError) Error() string {
	return fmt.Sprintf("authentication required for %s", e.URL)
}

// NotFoundError reports a repository or ref the upstream does not know.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.Resource)
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// Temporary reports whether the status is worth retrying.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}

// IsNotFound reports whether err carries a NotFoundError or a 404 HTTPError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == 404
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var (
		cfgErr    *ConfigurationError
		layoutErr *ArchiveLayoutError
		limitErr  *LimitError
		sumErr    *ChecksumError
		authErr   *AuthRequiredError
		nfErr     *NotFoundError
		httpErr   *HTTPError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &layoutErr), errors.As(err, &authErr), errors.As(err, &nfErr):
		return true
	case errors.As(err, &limitErr), errors.As(err, &sumErr):
		return true
	case errors.Is(err, context.Canceled):
		return true
	case errors.As(err, &httpErr):
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && !httpErr.Temporary()
	}
	return false
}

// Classify converts a raw transport or status error into the matching kind.
// 401 and 403 become AuthRequiredError, 404 NotFoundError, network failures
// and 5xx responses TransientNetworkError. Anything else is returned unchanged.
func Classify(op, url string, err error) error {
	if err == nil {
		return nil
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 401 || httpErr.StatusCode == 403:
			return &AuthRequiredError{URL: url}
		case httpErr.StatusCode == 404:
			return &NotFoundError{Resource: url}
		case httpErr.Temporary():
			return &TransientNetworkError{Op: op, Err: err}
		}
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &TransientNetworkError{Op: op, Err: err}
	}
	return err
}
