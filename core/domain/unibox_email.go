// Package domain holds the provider-agnostic data model every adapter
// produces and consumes.
package domain

import "time"

// Service identifies a supported upstream mail provider.
type Service string

const (
	ServiceGmail   Service = "gmail"
	ServiceOutlook Service = "outlook"
	ServiceMock    Service = "mock"
)

// IsValid reports whether s names a service callers may request.
// The mock service is resolvable only through the registry override.
func (s Service) IsValid() bool {
	return s == ServiceGmail || s == ServiceOutlook
}

// BodyType is the representation carried in StandardizedEmail.Body.
type BodyType string

const (
	BodyTypeHTML BodyType = "html"
	BodyTypeText BodyType = "text"
)

// Importance is derived from provider-native priority flags.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceNormal Importance = "normal"
	ImportanceLow    Importance = "low"
)

// ParseImportance maps a provider-native importance string onto the enum.
// Anything unrecognized collapses to normal.
func ParseImportance(s string) Importance {
	switch s {
	case "high", "High", "urgent":
		return ImportanceHigh
	case "low", "Low":
		return ImportanceLow
	default:
		return ImportanceNormal
	}
}

// Attachment describes one attachment of a standardized email.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	ContentID   string `json:"contentId,omitempty"`
	URL         string `json:"url,omitempty"`
}

// StandardizedEmail is the canonical message representation. Every adapter
// must populate every field; a provider that cannot determine a value
// supplies the documented default (empty slice, ImportanceNormal, zero Date)
// rather than omitting it.
type StandardizedEmail struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Cc          []string     `json:"cc"`
	Body        string       `json:"body"`
	BodyType    BodyType     `json:"bodyType"`
	Date        time.Time    `json:"date"`
	IsRead      bool         `json:"isRead"`
	Attachments []Attachment `json:"attachments"`
	Categories  []string     `json:"categories"`
	Importance  Importance   `json:"importance"`
	ThreadID    string       `json:"threadId,omitempty"`

	// OriginalPayload carries the raw provider message for data not yet
	// modeled. Its shape is not stable across providers.
	OriginalPayload interface{} `json:"originalPayload,omitempty"`
}

// Normalize fills the defaults the model invariant requires, so adapters can
// run it once after translation instead of guarding every field.
func (e *StandardizedEmail) Normalize() {
	if e.To == nil {
		e.To = []string{}
	}
	if e.Cc == nil {
		e.Cc = []string{}
	}
	if e.Attachments == nil {
		e.Attachments = []Attachment{}
	}
	if e.Categories == nil {
		e.Categories = []string{}
	}
	if e.Importance == "" {
		e.Importance = ImportanceNormal
	}
	if e.BodyType == "" {
		e.BodyType = BodyTypeText
	}
}

// EmailFetchOptions are the query parameters accepted by FetchEmails.
// All fields are optional; a nil options pointer means "defaults".
type EmailFetchOptions struct {
	// Limit caps the number of results. Zero with LimitSet means "exactly
	// zero results"; zero without LimitSet means the provider default (50).
	Limit    int
	LimitSet bool
	// Offset is the pagination start within the result window.
	Offset int
	// Filter is passed through to the provider's native search syntax.
	Filter string
	// FolderID restricts results to one mailbox folder or label.
	FolderID string
	// IncludeAttachments is a hint only; attachments are always resolved.
	IncludeAttachments bool
}

// DefaultFetchLimit applies when the caller did not set a limit.
const DefaultFetchLimit = 50

// EffectiveLimit resolves the limit semantics above.
func (o *EmailFetchOptions) EffectiveLimit() int {
	if o == nil {
		return DefaultFetchLimit
	}
	if o.Limit > 0 {
		return o.Limit
	}
	if o.LimitSet {
		return 0
	}
	return DefaultFetchLimit
}

// OutgoingEmail is a draft submitted for delivery.
type OutgoingEmail struct {
	To       []string `json:"to"`
	Cc       []string `json:"cc,omitempty"`
	Subject  string   `json:"subject"`
	Body     string   `json:"body"`
	BodyType BodyType `json:"bodyType,omitempty"`
}

// SendResult reports the outcome of a send attempt. Delivery failure is a
// routine outcome, not an error: adapters return Success=false instead of
// failing the call.
type SendResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
}

// Folder is one mailbox folder or label with its unread count.
type Folder struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UnreadCount int64  `json:"unreadCount"`
}

// UserProfile is the authenticated account's identity.
type UserProfile struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// TokenPair is the opaque bearer material issued by a provider. Lifetime and
// renewal policy are provider-specific; RefreshToken may be absent.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}
