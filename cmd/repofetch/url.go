package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/repofetch/internal/fetchurl"
	"github.com/BadgerOps/repofetch/internal/safety"
)

var (
	urlSSHKey  string
	urlSSHUser string
	urlProxy   string
	urlToken   string
	urlReveal  bool
)

func newURLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url OWNER/REPO",
		Short: "Print the URL a git client should use for a repository",
		Long: `Print the clone URL for a repository. The first matching rule wins:
an SSH key selects the SSH form, a mirror proxy prefixes the origin URL,
a token is embedded as basic auth, otherwise the bare origin is printed.

Credentials are masked unless --reveal is given.`,
		Example: `  repofetch url acme/widgets
  repofetch url acme/widgets --proxy https://u:p@mirror.example --reveal
  repofetch url acme/widgets --ssh-key ~/.ssh/id_ed25519`,
		Args: cobra.ExactArgs(1),
		RunE: urlRun,
	}

	cmd.Flags().StringVar(&urlSSHKey, "ssh-key", "", "path to an SSH private key; selects the SSH form")
	cmd.Flags().StringVar(&urlSSHUser, "ssh-user", "", "SSH user (default: git)")
	cmd.Flags().StringVar(&urlProxy, "proxy", "", "mirror proxy base URL; overrides mirror.proxy_url")
	cmd.Flags().StringVar(&urlToken, "token", "", "access token; overrides github.token")
	cmd.Flags().BoolVar(&urlReveal, "reveal", false, "print credentials instead of masking them")

	return cmd
}

func urlRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	owner, repo, err := parseRepoArg(args[0])
	if err != nil {
		return err
	}

	s := fetchurl.Settings{
		ServerURL:      globalCfg.GitHub.ServerURL,
		Owner:          owner,
		Repo:           repo,
		SSHKey:         urlSSHKey,
		SSHUser:        urlSSHUser,
		MirrorProxyURL: globalCfg.Mirror.ProxyURL,
		AuthToken:      globalCfg.GitHub.Token,
	}
	if urlProxy != "" {
		s.MirrorProxyURL = urlProxy
	}
	if urlToken != "" {
		s.AuthToken = urlToken
	}

	result := fetchurl.Resolve(s, logger)
	if !urlReveal {
		result = safety.MaskUserinfo(result)
	}
	fmt.Println(result)

	return nil
}
