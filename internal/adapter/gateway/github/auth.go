package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"

	"github.com/hayato-mori/issuepilot/internal/app"
	"github.com/hayato-mori/issuepilot/internal/app/config"
)

// TokenSource yields the credential used for git operations against the
// remote. In PAT mode it returns the configured token; in App mode it mints
// a fresh installation token per call, since installation tokens expire.
type TokenSource func(ctx context.Context) (string, error)

// NewFromConfig builds the gateway for the configured auth mode. "pat"
// authenticates with a personal access token; "app" signs requests with
// GitHub App installation tokens derived from the configured private key.
func NewFromConfig(cfg config.Config, log app.Logger, opts ...Option) (*Client, TokenSource, error) {
	switch cfg.GitHubAuthMode {
	case "", "pat":
		token := cfg.GitHubToken
		source := func(context.Context) (string, error) { return token, nil }
		return New(token, log, opts...), source, nil

	case "app":
		if cfg.GitHubAppID == 0 || cfg.GitHubAppPrivateKeyPath == "" {
			return nil, nil, fmt.Errorf("GitHub App auth requires GITHUB_APP_ID and GITHUB_APP_PRIVATE_KEY_PATH")
		}
		if cfg.GitHubAppInstallationID == 0 {
			return nil, nil, fmt.Errorf("GitHub App auth requires GITHUB_APP_INSTALLATION_ID")
		}
		itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport,
			cfg.GitHubAppID, cfg.GitHubAppInstallationID, cfg.GitHubAppPrivateKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load GitHub App private key: %w", err)
		}
		// The transport injects the installation token into every API call;
		// no static token is configured on the client.
		opts = append([]Option{WithHTTPClient(&http.Client{Transport: itr})}, opts...)
		return New("", log, opts...), itr.Token, nil

	default:
		return nil, nil, fmt.Errorf("unsupported github auth mode: %q", cfg.GitHubAuthMode)
	}
}
