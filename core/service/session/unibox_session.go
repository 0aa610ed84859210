// Package session manages the single active provider session: which service
// is selected and the credential pair for it.
package session

import (
	"context"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
	"unibox_server/pkg/apperr"
	"unibox_server/pkg/logger"
)

// Manager holds the active service selection and token pair, backed by a
// pluggable store. State is loaded lazily on first access and written
// through on every mutation.
type Manager struct {
	store out.TokenStorePort

	// allowMock mirrors the provider registry's mock override; the mock
	// service is selectable only while it is on.
	allowMock bool

	mu      sync.Mutex
	loaded  bool
	service domain.Service
	tokens  *domain.TokenPair
}

// NewManager creates a session manager over the given store.
func NewManager(store out.TokenStorePort, allowMock bool) *Manager {
	return &Manager{store: store, allowMock: allowMock}
}

// ActiveService returns the currently selected service, which may be empty
// when no service has ever been chosen.
func (m *Manager) ActiveService(ctx context.Context) (domain.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoaded(ctx); err != nil {
		return "", err
	}
	return m.service, nil
}

// SetActiveService selects the service for subsequent operations. Switching
// services drops the previous credential pair.
func (m *Manager) SetActiveService(ctx context.Context, service domain.Service) error {
	if !service.IsValid() && !(service == domain.ServiceMock && m.allowMock) {
		return apperr.UnsupportedService(string(service))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}
	if m.service != service {
		m.tokens = nil
	}
	m.service = service
	return m.persist(ctx)
}

// Tokens returns the stored credential pair, or nil when unauthenticated.
func (m *Manager) Tokens(ctx context.Context) (*domain.TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if m.tokens == nil {
		return nil, nil
	}
	pair := *m.tokens
	return &pair, nil
}

// SetTokens stores the credential pair for the active service.
func (m *Manager) SetTokens(ctx context.Context, tokens *domain.TokenPair) error {
	if tokens == nil || tokens.AccessToken == "" {
		return apperr.MissingField("access_token")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}
	pair := *tokens
	m.tokens = &pair
	return m.persist(ctx)
}

// ClearTokens drops the credential pair but keeps the service selection, so
// a re-auth lands on the same provider.
func (m *Manager) ClearTokens(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoaded(ctx); err != nil {
		return err
	}
	m.tokens = nil
	return m.persist(ctx)
}

// IsAuthenticated reports whether a credential pair is present. No liveness
// check is made against the provider.
func (m *Manager) IsAuthenticated(ctx context.Context) (bool, error) {
	tokens, err := m.Tokens(ctx)
	if err != nil {
		return false, err
	}
	return tokens != nil, nil
}

// AccessTokenClaims decodes the stored access token structurally when it is
// a JWT. The signature is NOT verified; the claims are informational only
// (subject, expiry) and must never gate authorization.
func (m *Manager) AccessTokenClaims(ctx context.Context) (jwt.MapClaims, error) {
	tokens, err := m.Tokens(ctx)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, apperr.Unauthorized("no active session")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokens.AccessToken, claims); err != nil {
		return nil, apperr.InvalidToken("access token is not a decodable JWT").WithError(err)
	}
	return claims, nil
}

// ensureLoaded pulls state from the store once. Callers hold m.mu.
func (m *Manager) ensureLoaded(ctx context.Context) error {
	if m.loaded {
		return nil
	}

	state, err := m.store.Load(ctx)
	if err != nil {
		return apperr.StorageError("load session", err)
	}
	if state != nil {
		m.service = state.Service
		m.tokens = state.Tokens
	}
	m.loaded = true
	return nil
}

// persist writes current state through to the store. Callers hold m.mu.
func (m *Manager) persist(ctx context.Context) error {
	state := &out.SessionState{
		Service: m.service,
		Tokens:  m.tokens,
	}
	if err := m.store.Save(ctx, state); err != nil {
		logger.WithError(err).Error("failed to persist session state")
		return apperr.StorageError("save session", err)
	}
	return nil
}
