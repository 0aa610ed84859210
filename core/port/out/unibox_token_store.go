package out

import (
	"context"

	"unibox_server/core/domain"
)

// =============================================================================
// Token Store Port
// =============================================================================

// SessionState is the persisted session record: the active service selection
// and, when present, the credential pair for it. Tokens may be nil while a
// service is selected (pre-auth).
type SessionState struct {
	Service domain.Service    `json:"service"`
	Tokens  *domain.TokenPair `json:"tokens,omitempty"`
}

// TokenStorePort persists the single active session. Load returns (nil, nil)
// when no session has ever been saved; absence is not an error.
type TokenStorePort interface {
	Load(ctx context.Context) (*SessionState, error)
	Save(ctx context.Context, state *SessionState) error
	Clear(ctx context.Context) error
	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
	Close() error
}
