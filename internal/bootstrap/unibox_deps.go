package bootstrap

import (
	"unibox_server/adapter/out/persistence"
	"unibox_server/adapter/out/provider"
	"unibox_server/config"
	"unibox_server/core/port/out"
	"unibox_server/core/service/session"
	"unibox_server/pkg/logger"
)

// Dependencies holds the wired outbound adapters and core services.
type Dependencies struct {
	TokenStore out.TokenStorePort
	Sessions   *session.Manager
	Providers  *provider.Factory
}

// NewDependencies wires the token store, session manager, and provider
// factory from configuration. The returned cleanup closes the store.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	store, err := newTokenStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	sessions := session.NewManager(store, cfg.MockProvider)

	factory := provider.NewFactory(&provider.FactoryConfig{
		Gmail: &provider.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		},
		Outlook: &provider.OutlookConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			TenantID:     cfg.MicrosoftTenantID,
		},
		MockMode: cfg.MockProvider,
	})

	deps := &Dependencies{
		TokenStore: store,
		Sessions:   sessions,
		Providers:  factory,
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close token store")
		}
	}

	return deps, cleanup, nil
}

// newTokenStore picks the backend: Redis when configured, SQLite otherwise.
func newTokenStore(cfg *config.Config) (out.TokenStorePort, error) {
	if cfg.RedisURL != "" {
		store, err := persistence.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("Token store: redis")
		return store, nil
	}

	store, err := persistence.NewSQLiteStore(cfg.TokenStorePath)
	if err != nil {
		return nil, err
	}
	logger.Info("Token store: sqlite (%s)", cfg.TokenStorePath)
	return store, nil
}
