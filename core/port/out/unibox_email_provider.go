// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"

	"golang.org/x/oauth2"

	"unibox_server/core/domain"
)

// =============================================================================
// Mail Provider Port (Gmail, Outlook, Mock)
// =============================================================================

// EmailProviderPort is the capability contract every mail provider adapter
// satisfies. All operations take the caller's bearer token; nothing in the
// adapter holds per-user state between calls.
type EmailProviderPort interface {
	// ServiceName returns the provider identifier ("gmail", "outlook", "mock").
	ServiceName() string

	// Auth
	GetAuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error)

	// Messages
	FetchEmails(ctx context.Context, token *oauth2.Token, opts *domain.EmailFetchOptions) ([]domain.StandardizedEmail, error)
	FetchEmailByID(ctx context.Context, token *oauth2.Token, id string) (*domain.StandardizedEmail, error)

	// SendEmail reports delivery failure through SendResult.Success, not
	// through the error return. The error return is reserved for failures
	// before a send attempt could be made (bad token material, encoding).
	SendEmail(ctx context.Context, token *oauth2.Token, draft *domain.OutgoingEmail) (*domain.SendResult, error)

	// MarkAsRead is idempotent: marking an already-read message succeeds.
	MarkAsRead(ctx context.Context, token *oauth2.Token, id string) bool

	// Mailbox
	GetFolders(ctx context.Context, token *oauth2.Token) ([]domain.Folder, error)
	GetUserProfile(ctx context.Context, token *oauth2.Token) (*domain.UserProfile, error)
}

// =============================================================================
// Provider Error
// =============================================================================

// ProviderErrorCode represents error codes.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrNetwork      ProviderErrorCode = "network_error"
	ProviderErrServer       ProviderErrorCode = "server_error"
	ProviderErrInvalidInput ProviderErrorCode = "invalid_input"
	ProviderErrUnsupported  ProviderErrorCode = "unsupported_service"
)

// ProviderError represents a provider error. Retryable marks transient
// upstream failures (rate limits, 5xx, network) the caller may retry.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new provider error.
func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}

// =============================================================================
// Provider Factory
// =============================================================================

// ProviderFactoryPort resolves a service name to its adapter instance.
// Implementations cache instances, so repeated calls with the same name
// return the same adapter.
type ProviderFactoryPort interface {
	GetProvider(service domain.Service) (EmailProviderPort, error)
}
