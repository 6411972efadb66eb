package fetcherr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"configuration", &ConfigurationError{Setting: "proxy URL", Err: errors.New("bad")}, true},
		{"layout", &ArchiveLayoutError{Entries: []string{"a", "b"}}, true},
		{"auth", &AuthRequiredError{URL: "https://github.com"}, true},
		{"over limit", fmt.Errorf("download: %w", &LimitError{Err: errors.New("archive exceeded 1 kB")}), true},
		{"checksum", &ChecksumError{Got: "aa", Want: "bb"}, true},
		{"not found wrapped", fmt.Errorf("resolving: %w", &NotFoundError{Resource: "acme/widgets"}), true},
		{"http 400", &HTTPError{StatusCode: 400}, true},
		{"http 429", &HTTPError{StatusCode: 429}, false},
		{"http 503", &HTTPError{StatusCode: 503}, false},
		{"transient", &TransientNetworkError{Op: "download", Err: errors.New("reset")}, false},
		{"cancelled", fmt.Errorf("download: %w", context.Canceled), true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	const u = "https://github.com/acme/widgets"

	var authErr *AuthRequiredError
	if err := Classify("download", u, &HTTPError{StatusCode: 401}); !errors.As(err, &authErr) {
		t.Errorf("401 classified as %T, want *AuthRequiredError", err)
	}

	if err := Classify("download", u, &HTTPError{StatusCode: 404}); !IsNotFound(err) {
		t.Errorf("404 classified as %T, want not found", err)
	}

	var transient *TransientNetworkError
	if err := Classify("download", u, &HTTPError{StatusCode: 502}); !errors.As(err, &transient) {
		t.Errorf("502 classified as %T, want *TransientNetworkError", err)
	}

	opErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	if err := Classify("download", u, opErr); !errors.As(err, &transient) {
		t.Errorf("dial error classified as %T, want *TransientNetworkError", err)
	}

	teapot := &HTTPError{StatusCode: 418}
	if err := Classify("download", u, teapot); err != teapot {
		t.Errorf("418 should pass through unchanged, got %v", err)
	}

	if Classify("download", u, nil) != nil {
		t.Error("nil error should classify as nil")
	}
}

func TestHTTPErrorMessage(t *testing.T) {
	httpErr := &HTTPError{StatusCode: 403, Status: "Forbidden", Body: "Access denied"}
	if got, want := httpErr.Error(), "http error 403: Forbidden"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
