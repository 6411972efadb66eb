package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/BadgerOps/repofetch/internal/fetcherr"
)

// RemoteResolver reads the default branch from the symbolic HEAD the git
// smart HTTP endpoint advertises. It needs no REST API access.
type RemoteResolver struct {
	serverURL string
	token     string
	timeout   time.Duration
	logger    *slog.Logger
}

// NewRemoteResolver creates a resolver for repositories on serverURL.
func NewRemoteResolver(serverURL, token string, logger *slog.Logger) *RemoteResolver {
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	return &RemoteResolver{serverURL: serverURL, token: token, timeout: apiTimeout, logger: logger}
}

// DefaultBranch returns the fully qualified ref HEAD points at, such as
// "refs/heads/main".
func (r *RemoteResolver) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	target := NewRepo(r.serverURL, owner, repo).HTTPSURL()

	remote := git.NewRemote(memory.NewStorage(), &config.RemoteConfig{
		Name: "origin",
		URLs: []string{target},
	})

	opts := &git.ListOptions{}
	if r.token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: r.token}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	refs, err := remote.ListContext(ctx, opts)
	switch {
	case errors.Is(err, transport.ErrRepositoryNotFound):
		return "", &fetcherr.NotFoundError{Resource: target}
	case errors.Is(err, transport.ErrAuthenticationRequired), errors.Is(err, transport.ErrAuthorizationFailed):
		return "", &fetcherr.AuthRequiredError{URL: target}
	case err != nil:
		return "", fmt.Errorf("listing remote refs: %w", err)
	}

	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			r.logger.Debug("resolved default branch from remote HEAD", "repo", owner+"/"+repo, "ref", ref.Target())
			return ref.Target().String(), nil
		}
	}
	return "", fmt.Errorf("remote %s does not advertise a symbolic HEAD", target)
}
