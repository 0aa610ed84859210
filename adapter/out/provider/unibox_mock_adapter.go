package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
)

// =============================================================================
// Mock Adapter
// =============================================================================

// MockAdapter implements out.EmailProviderPort against in-memory fixtures.
// It backs local development and tests; no network calls are made and the
// bearer token is never inspected.
type MockAdapter struct {
	mu     sync.RWMutex
	emails []domain.StandardizedEmail
}

// NewMockAdapter creates a mock adapter seeded with the default fixtures.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		emails: defaultMockEmails(),
	}
}

// NewMockAdapterWithEmails creates a mock adapter with caller-supplied fixtures.
func NewMockAdapterWithEmails(emails []domain.StandardizedEmail) *MockAdapter {
	normalized := make([]domain.StandardizedEmail, len(emails))
	copy(normalized, emails)
	for i := range normalized {
		normalized[i].Normalize()
	}
	return &MockAdapter{emails: normalized}
}

// ServiceName returns the provider identifier.
func (a *MockAdapter) ServiceName() string {
	return "mock"
}

// =============================================================================
// Authentication
// =============================================================================

// GetAuthURL returns a synthetic consent URL.
func (a *MockAdapter) GetAuthURL(state string) string {
	return "https://mock.local/oauth/authorize?state=" + state
}

// ExchangeCode issues a synthetic token pair for any code.
func (a *MockAdapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error) {
	return &domain.TokenPair{
		AccessToken:  "mock-access-" + code,
		RefreshToken: "mock-refresh-" + code,
		ExpiresIn:    3600,
	}, nil
}

// RefreshAccessToken rotates the synthetic access token.
func (a *MockAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return &domain.TokenPair{
		AccessToken:  "mock-access-" + uuid.NewString(),
		RefreshToken: refreshToken,
		ExpiresIn:    3600,
	}, nil
}

// =============================================================================
// Messages
// =============================================================================

// FetchEmails filters the fixtures by a case-insensitive substring match on
// subject and sender, then applies offset and limit.
func (a *MockAdapter) FetchEmails(ctx context.Context, token *oauth2.Token, opts *domain.EmailFetchOptions) ([]domain.StandardizedEmail, error) {
	limit := opts.EffectiveLimit()
	if limit == 0 {
		return []domain.StandardizedEmail{}, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	filter := ""
	offset := 0
	if opts != nil {
		filter = strings.ToLower(opts.Filter)
		if opts.Offset > 0 {
			offset = opts.Offset
		}
	}

	matched := make([]domain.StandardizedEmail, 0, len(a.emails))
	for _, email := range a.emails {
		if filter != "" &&
			!strings.Contains(strings.ToLower(email.Subject), filter) &&
			!strings.Contains(strings.ToLower(email.From), filter) {
			continue
		}
		matched = append(matched, email)
	}

	if offset >= len(matched) {
		return []domain.StandardizedEmail{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// FetchEmailByID returns the fixture with the given id.
func (a *MockAdapter) FetchEmailByID(ctx context.Context, token *oauth2.Token, id string) (*domain.StandardizedEmail, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, email := range a.emails {
		if email.ID == id {
			found := email
			return &found, nil
		}
	}
	return nil, out.NewProviderError("mock", out.ProviderErrNotFound, "email not found: "+id, nil, false)
}

// SendEmail always succeeds and mints a fresh message id.
func (a *MockAdapter) SendEmail(ctx context.Context, token *oauth2.Token, draft *domain.OutgoingEmail) (*domain.SendResult, error) {
	return &domain.SendResult{
		Success: true,
		ID:      "mock-" + uuid.NewString(),
	}, nil
}

// MarkAsRead flips the fixture's read flag. Marking a read message again
// still reports success.
func (a *MockAdapter) MarkAsRead(ctx context.Context, token *oauth2.Token, id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.emails {
		if a.emails[i].ID == id {
			a.emails[i].IsRead = true
			return true
		}
	}
	return false
}

// =============================================================================
// Mailbox
// =============================================================================

// GetFolders reports a fixed folder set with unread counts derived from the
// current fixture state.
func (a *MockAdapter) GetFolders(ctx context.Context, token *oauth2.Token) ([]domain.Folder, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var unread int64
	for _, email := range a.emails {
		if !email.IsRead {
			unread++
		}
	}

	return []domain.Folder{
		{ID: "INBOX", Name: "Inbox", UnreadCount: unread},
		{ID: "SENT", Name: "Sent", UnreadCount: 0},
		{ID: "ARCHIVE", Name: "Archive", UnreadCount: 0},
	}, nil
}

// GetUserProfile returns the fixture account identity.
func (a *MockAdapter) GetUserProfile(ctx context.Context, token *oauth2.Token) (*domain.UserProfile, error) {
	return &domain.UserProfile{
		Email: "mock.user@example.com",
		Name:  "Mock User",
	}, nil
}

// =============================================================================
// Fixtures
// =============================================================================

func defaultMockEmails() []domain.StandardizedEmail {
	base := time.Date(2024, time.March, 8, 9, 30, 0, 0, time.UTC)

	emails := []domain.StandardizedEmail{
		{
			ID:         "mock-1",
			Subject:    "Weekend plans",
			From:       "Alice Johnson <alice@example.com>",
			To:         []string{"mock.user@example.com"},
			Body:       "<p>Are we still on for the hike on Saturday?</p>",
			BodyType:   domain.BodyTypeHTML,
			Date:       base,
			IsRead:     false,
			Categories: []string{"Personal"},
			Importance: domain.ImportanceNormal,
		},
		{
			ID:         "mock-2",
			Subject:    "Quarterly report draft",
			From:       "Bob Smith <bob@company.com>",
			To:         []string{"mock.user@example.com"},
			Cc:         []string{"carol@company.com"},
			Body:       "Attached is the draft for review before Friday.",
			BodyType:   domain.BodyTypeText,
			Date:       base.Add(-26 * time.Hour),
			IsRead:     true,
			Categories: []string{"Updates"},
			Importance: domain.ImportanceHigh,
			Attachments: []domain.Attachment{
				{Filename: "q1-report.pdf", ContentType: "application/pdf", Size: 48213},
			},
		},
		{
			ID:         "mock-3",
			Subject:    "Your order has shipped",
			From:       "store@shop.example.com",
			To:         []string{"mock.user@example.com"},
			Body:       "<div>Tracking number: 1Z999</div>",
			BodyType:   domain.BodyTypeHTML,
			Date:       base.Add(-3 * 24 * time.Hour),
			IsRead:     false,
			Categories: []string{"Promotions"},
			Importance: domain.ImportanceLow,
		},
		{
			ID:       "mock-4",
			Subject:  "Team standup notes",
			From:     "Dana Lee <dana@company.com>",
			To:       []string{"team@company.com"},
			Body:     "Notes from today's standup are in the wiki.",
			BodyType: domain.BodyTypeText,
			Date:     base.Add(-5 * 24 * time.Hour),
			IsRead:   true,
		},
	}

	for i := range emails {
		emails[i].Normalize()
	}
	return emails
}

var _ out.EmailProviderPort = (*MockAdapter)(nil)
