// Package provider implements mail provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	oauth2v2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
	"unibox_server/pkg/logger"
)

// =============================================================================
// Gmail Adapter
// =============================================================================

// gmailCategoryLabels maps Gmail system labels to normalized categories.
// Labels with no entry here are dropped from Categories.
var gmailCategoryLabels = map[string]string{
	"CATEGORY_PERSONAL":   "Personal",
	"CATEGORY_SOCIAL":     "Social",
	"CATEGORY_PROMOTIONS": "Promotions",
	"CATEGORY_UPDATES":    "Updates",
	"CATEGORY_FORUMS":     "Forums",
}

// GmailAdapter implements out.EmailProviderPort for Gmail.
type GmailAdapter struct {
	config   *oauth2.Config
	cb       *gobreaker.CircuitBreaker
	endpoint string
}

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides the Gmail API base URL; empty uses the default.
	Endpoint string
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig) *GmailAdapter {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
			gmail.GmailModifyScope,
			gmail.GmailLabelsScope,
			oauth2v2.UserinfoEmailScope,
			oauth2v2.UserinfoProfileScope,
		},
		Endpoint: google.Endpoint,
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithProvider("gmail").Warn("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	}

	return &GmailAdapter{
		config:   config,
		cb:       gobreaker.NewCircuitBreaker(cbSettings),
		endpoint: cfg.Endpoint,
	}
}

// ServiceName returns the provider identifier.
func (a *GmailAdapter) ServiceName() string {
	return "gmail"
}

// =============================================================================
// Authentication
// =============================================================================

// GetAuthURL returns the OAuth authorization URL.
func (a *GmailAdapter) GetAuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode exchanges an authorization code for a token pair.
func (a *GmailAdapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error) {
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, out.NewProviderError("gmail", out.ProviderErrAuth, "failed to exchange authorization code", err, false)
	}
	return tokenPairFromOAuth(token), nil
}

// RefreshAccessToken obtains a fresh access token from a refresh token.
func (a *GmailAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	src := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, out.NewProviderError("gmail", out.ProviderErrAuth, "failed to refresh token", err, false)
	}
	pair := tokenPairFromOAuth(token)
	if pair.RefreshToken == "" {
		// Google omits the refresh token on renewal; keep the one we have.
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// =============================================================================
// Messages
// =============================================================================

// FetchEmails lists messages and resolves each one to the standardized model.
// Gmail has no native offset, so the list window is widened to limit+offset
// and the leading ids are discarded before the per-message fetches.
func (a *GmailAdapter) FetchEmails(ctx context.Context, token *oauth2.Token, opts *domain.EmailFetchOptions) ([]domain.StandardizedEmail, error) {
	limit := opts.EffectiveLimit()
	if limit == 0 {
		return []domain.StandardizedEmail{}, nil
	}

	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	offset := 0
	if opts != nil && opts.Offset > 0 {
		offset = opts.Offset
	}

	req := svc.Users.Messages.List("me").MaxResults(int64(limit + offset))
	if opts != nil {
		if opts.Filter != "" {
			req = req.Q(opts.Filter)
		}
		if opts.FolderID != "" {
			req = req.LabelIds(opts.FolderID)
		}
	}

	var resp *gmail.ListMessagesResponse
	cbErr := a.execute(func() error {
		var apiErr error
		resp, apiErr = req.Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to list messages")
	}

	refs := resp.Messages
	if offset >= len(refs) {
		return []domain.StandardizedEmail{}, nil
	}
	refs = refs[offset:]
	if len(refs) > limit {
		refs = refs[:limit]
	}

	emails := make([]domain.StandardizedEmail, 0, len(refs))
	for _, ref := range refs {
		var msg *gmail.Message
		cbErr := a.execute(func() error {
			var apiErr error
			msg, apiErr = svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
			return apiErr
		})
		if cbErr != nil {
			return nil, a.wrapError(cbErr, "failed to get message "+ref.Id)
		}
		emails = append(emails, a.convertMessage(msg))
	}
	return emails, nil
}

// FetchEmailByID retrieves one message in full form.
func (a *GmailAdapter) FetchEmailByID(ctx context.Context, token *oauth2.Token, id string) (*domain.StandardizedEmail, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	var msg *gmail.Message
	cbErr := a.execute(func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to get message")
	}

	email := a.convertMessage(msg)
	return &email, nil
}

// SendEmail submits a raw RFC-822 message. A rejected delivery comes back as
// Success=false; the error return is reserved for pre-send failures.
func (a *GmailAdapter) SendEmail(ctx context.Context, token *oauth2.Token, draft *domain.OutgoingEmail) (*domain.SendResult, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, a.wrapError(err, "failed to resolve sender address")
	}

	raw := buildRawMessage(profile.EmailAddress, draft)
	gmailMsg := &gmail.Message{
		Raw: base64.RawURLEncoding.EncodeToString([]byte(raw)),
	}

	var sent *gmail.Message
	cbErr := a.execute(func() error {
		var apiErr error
		sent, apiErr = svc.Users.Messages.Send("me", gmailMsg).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		logger.WithProvider("gmail").WithError(cbErr).Warn("send failed")
		return &domain.SendResult{Success: false}, nil
	}

	return &domain.SendResult{Success: true, ID: sent.Id}, nil
}

// MarkAsRead removes the UNREAD label. Removing a label the message does not
// carry is accepted by the API, so the operation is idempotent.
func (a *GmailAdapter) MarkAsRead(ctx context.Context, token *oauth2.Token, id string) bool {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return false
	}

	req := &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}
	cbErr := a.execute(func() error {
		_, apiErr := svc.Users.Messages.Modify("me", id, req).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		logger.WithProvider("gmail").WithError(cbErr).Warn("mark as read failed for %s", id)
		return false
	}
	return true
}

// =============================================================================
// Mailbox
// =============================================================================

// GetFolders lists labels as folders. The list call does not carry unread
// counts, so each label needs a Labels.Get follow-up.
func (a *GmailAdapter) GetFolders(ctx context.Context, token *oauth2.Token) ([]domain.Folder, error) {
	svc, err := a.getService(ctx, token)
	if err != nil {
		return nil, a.wrapError(err, "failed to create gmail service")
	}

	var resp *gmail.ListLabelsResponse
	cbErr := a.execute(func() error {
		var apiErr error
		resp, apiErr = svc.Users.Labels.List("me").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, a.wrapError(cbErr, "failed to list labels")
	}

	folders := make([]domain.Folder, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		var detail *gmail.Label
		err := a.execute(func() error {
			var apiErr error
			detail, apiErr = svc.Users.Labels.Get("me", l.Id).Context(ctx).Do()
			return apiErr
		})
		if err != nil {
			// A label deleted between list and get is not fatal.
			logger.WithProvider("gmail").WithError(err).Debug("label detail fetch failed for %s", l.Id)
			folders = append(folders, domain.Folder{ID: l.Id, Name: l.Name})
			continue
		}
		folders = append(folders, domain.Folder{
			ID:          detail.Id,
			Name:        detail.Name,
			UnreadCount: detail.MessagesUnread,
		})
	}
	return folders, nil
}

// GetUserProfile resolves the authenticated account's identity via the
// userinfo endpoint, which carries display name and avatar.
func (a *GmailAdapter) GetUserProfile(ctx context.Context, token *oauth2.Token) (*domain.UserProfile, error) {
	svc, err := oauth2v2.NewService(ctx, option.WithTokenSource(a.config.TokenSource(ctx, token)))
	if err != nil {
		return nil, a.wrapError(err, "failed to create userinfo service")
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, a.wrapError(err, "failed to get userinfo")
	}

	return &domain.UserProfile{
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *GmailAdapter) getService(ctx context.Context, token *oauth2.Token) (*gmail.Service, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(a.config.TokenSource(ctx, token)),
	}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	return gmail.NewService(ctx, opts...)
}

// execute wraps an API call with circuit breaker protection. Client errors
// (4xx except 429) must not trip the circuit.
func (a *GmailAdapter) execute(fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 500, 502, 503, 429:
					return nil, err
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}
	return err
}

// nonCircuitError wraps errors that should not trip the circuit breaker.
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// convertMessage translates a Gmail message into the standardized model.
func (a *GmailAdapter) convertMessage(msg *gmail.Message) domain.StandardizedEmail {
	email := domain.StandardizedEmail{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "Subject":
				email.Subject = h.Value
			case "From":
				email.From = h.Value
			case "To":
				email.To = splitAddressList(h.Value)
			case "Cc":
				email.Cc = splitAddressList(h.Value)
			case "Date":
				// Unparseable dates produce the zero timestamp, not an error.
				if t, err := mail.ParseDate(h.Value); err == nil {
					email.Date = t
				}
			}
		}

		html, text := extractGmailBody(msg.Payload)
		if html != "" {
			email.Body = html
			email.BodyType = domain.BodyTypeHTML
		} else {
			email.Body = text
			email.BodyType = domain.BodyTypeText
		}

		email.Attachments = extractGmailAttachments(msg.Payload)
	}

	email.IsRead = !containsString(msg.LabelIds, "UNREAD")
	if containsString(msg.LabelIds, "IMPORTANT") {
		email.Importance = domain.ImportanceHigh
	}
	for _, label := range msg.LabelIds {
		if category, ok := gmailCategoryLabels[label]; ok {
			email.Categories = append(email.Categories, category)
		}
	}

	email.OriginalPayload = msg
	email.Normalize()
	return email
}

// extractGmailBody walks the MIME part tree depth-first. HTML always wins
// over plain text; when multiple HTML parts exist the last one found is
// kept, while only the first plain-text part is remembered.
func extractGmailBody(part *gmail.MessagePart) (html, text string) {
	if part == nil {
		return "", ""
	}

	if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/html":
			if data, err := decodeBase64URL(part.Body.Data); err == nil {
				html = string(data)
			}
		case "text/plain":
			if data, err := decodeBase64URL(part.Body.Data); err == nil {
				text = string(data)
			}
		}
	}

	for _, p := range part.Parts {
		childHTML, childText := extractGmailBody(p)
		if childHTML != "" {
			html = childHTML
		}
		if text == "" {
			text = childText
		}
	}
	return html, text
}

// extractGmailAttachments treats any part with a filename as an attachment.
func extractGmailAttachments(part *gmail.MessagePart) []domain.Attachment {
	var attachments []domain.Attachment

	if part.Filename != "" {
		att := domain.Attachment{
			Filename:    part.Filename,
			ContentType: part.MimeType,
		}
		if part.Body != nil {
			att.Size = part.Body.Size
		}
		for _, h := range part.Headers {
			if h.Name == "Content-ID" {
				cid := h.Value
				if len(cid) > 2 && cid[0] == '<' && cid[len(cid)-1] == '>' {
					cid = cid[1 : len(cid)-1]
				}
				att.ContentID = cid
				break
			}
		}
		attachments = append(attachments, att)
	}

	for _, p := range part.Parts {
		attachments = append(attachments, extractGmailAttachments(p)...)
	}
	return attachments
}

// buildRawMessage assembles the RFC-822 payload for the raw send API.
// Header order is fixed: From, To, Cc (when present), Subject, Content-Type.
func buildRawMessage(from string, draft *domain.OutgoingEmail) string {
	var buf strings.Builder

	buf.WriteString(fmt.Sprintf("From: %s\r\n", from))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(draft.To, ", ")))
	if len(draft.Cc) > 0 {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(draft.Cc, ", ")))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", draft.Subject))

	contentType := "text/plain"
	if draft.BodyType == domain.BodyTypeHTML {
		contentType = "text/html"
	}
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=UTF-8\r\n", contentType))
	buf.WriteString("\r\n")
	buf.WriteString(draft.Body)

	return buf.String()
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := err.(*googleapi.Error); ok {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError("gmail", out.ProviderErrTokenExpired, "token expired", err, false)
		case 403:
			if strings.Contains(apiErr.Message, "Rate Limit") {
				return out.NewProviderError("gmail", out.ProviderErrRateLimit, "rate limit exceeded", err, true)
			}
			return out.NewProviderError("gmail", out.ProviderErrAuth, "access denied", err, false)
		case 404:
			return out.NewProviderError("gmail", out.ProviderErrNotFound, "not found", err, false)
		case 429:
			return out.NewProviderError("gmail", out.ProviderErrRateLimit, "too many requests", err, true)
		case 500, 502, 503:
			return out.NewProviderError("gmail", out.ProviderErrServer, "server error", err, true)
		}
		return out.NewProviderError("gmail", out.ProviderErrServer, defaultMsg, err, false)
	}

	return out.NewProviderError("gmail", out.ProviderErrNetwork, defaultMsg, err, true)
}

// decodeBase64URL accepts both padded and unpadded url-safe encodings; Gmail
// emits either depending on the part.
func decodeBase64URL(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// splitAddressList splits a recipient header into individual addresses,
// keeping display names attached to their address.
func splitAddressList(s string) []string {
	if s == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(s); err == nil {
		result := make([]string, len(list))
		for i, addr := range list {
			if addr.Name != "" {
				result[i] = fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
			} else {
				result[i] = addr.Address
			}
		}
		return result
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// tokenPairFromOAuth converts an oauth2 token to the domain token pair.
func tokenPairFromOAuth(token *oauth2.Token) *domain.TokenPair {
	pair := &domain.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		pair.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return pair
}

// =============================================================================
// Interface Compliance
// =============================================================================

var _ out.EmailProviderPort = (*GmailAdapter)(nil)
