// internal/credentials/credentials.go
package credentials

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github-insights/internal/database"
)

// Scopes a credential can be requested for.
const (
	ScopeGithubToken   = "github_pat"
	ScopeWebhookSecret = "github_webhook_secret"
)

var envFallback = map[string]string{
	ScopeGithubToken:   "GITHUB_PAT",
	ScopeWebhookSecret: "GITHUB_WEBHOOK_SECRET",
}

// Provider resolves secrets from the settings store, then the environment, then a static default.
type Provider struct {
	settings database.SettingsStore
	defaults map[string]string
	lookup   func(string) (string, bool)
	logger   *slog.Logger
}

// NewProvider creates a Provider. defaultToken is used for the GitHub scope when
// neither the settings nor the environment carry one.
func NewProvider(settings database.SettingsStore, defaultToken string, logger *slog.Logger) *Provider {
	return &Provider{
		settings: settings,
		defaults: map[string]string{ScopeGithubToken: defaultToken},
		lookup:   os.LookupEnv,
		logger:   logger,
	}
}

// Get returns the secret for scope, or "" when none is configured.
func (p *Provider) Get(ctx context.Context, scope string) (string, error) {
	s, err := p.settings.GetAppSettings(ctx)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		// Settings are one source among several; fall through to the environment.
		p.logger.Warn("Failed to read app settings", "scope", scope, "error", err)
	default:
		var v string
		switch scope {
		case ScopeGithubToken:
			v = s.GithubPAT
		case ScopeWebhookSecret:
			v = s.GithubWebhookSecret
		}
		if v != "" {
			return v, nil
		}
	}

	if name, ok := envFallback[scope]; ok {
		if v, ok := p.lookup(name); ok && v != "" {
			return v, nil
		}
	}
	return p.defaults[scope], nil
}
