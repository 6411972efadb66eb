// Package fetchurl decides the single endpoint used to reach a repository
// from SSH, mirror proxy and token settings.
package fetchurl

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/BadgerOps/repofetch/internal/github"
	"github.com/BadgerOps/repofetch/internal/safety"
)

// TokenPassword is the fixed password paired with a token sent as the URL
// username.
const TokenPassword = "x-oauth-basic"

const defaultSSHUser = "git"

// Settings carries everything Resolve considers.
type Settings struct {
	ServerURL      string
	Owner          string
	Repo           string
	SSHKey         string
	SSHUser        string
	MirrorProxyURL string
	AuthToken      string
}

// Resolve returns the URL or SSH connection string for the repository.
// The first matching rule wins: SSH key, mirror proxy with credentials,
// mirror proxy, token, bare origin.
func Resolve(s Settings, logger *slog.Logger) string {
	repo := github.NewRepo(s.ServerURL, s.Owner, s.Repo)
	origin := repo.HTTPSURL()

	if s.SSHKey != "" {
		user := s.SSHUser
		if user == "" {
			user = defaultSSHUser
		}
		result := fmt.Sprintf("%s@%s:%s/%s.git", user, repo.Host(), s.Owner, s.Repo)
		logger.Info("using SSH for repository access", "repo", repo.String(), "url", result)
		return result
	}

	if s.MirrorProxyURL != "" {
		proxy := safety.NewSecretURL(s.MirrorProxyURL)
		u, err := safety.ParseHTTPURL(s.MirrorProxyURL)
		if err != nil {
			logger.Warn("ignoring malformed mirror proxy URL", "proxy", proxy, "error", err)
			return origin
		}

		password, _ := u.User.Password()
		if u.User != nil && u.User.Username() != "" && password != "" {
			result := strings.TrimRight(s.MirrorProxyURL, "/") + "/" + origin
			logger.Info("using authenticated mirror proxy", "repo", repo.String(), "url", safety.NewSecretURL(result))
			return result
		}

		// Userinfo without a password is not a usable credential pair and
		// must not be copied into the result.
		u.User = nil
		result := strings.TrimRight(u.String(), "/") + "/" + origin
		logger.Info("using mirror proxy", "repo", repo.String(), "url", result)
		return result
	}

	if s.AuthToken != "" {
		u, err := url.Parse(origin)
		if err != nil {
			logger.Warn("cannot attach token to origin URL", "url", origin, "error", err)
			return origin
		}
		u.User = url.UserPassword(s.AuthToken, TokenPassword)
		result := u.String()
		logger.Info("using token for repository access", "repo", repo.String(), "url", safety.NewSecretURL(result))
		return result
	}

	logger.Info("using origin URL", "repo", repo.String(), "url", origin)
	return origin
}
