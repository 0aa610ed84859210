package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
	"unibox_server/pkg/logger"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// =============================================================================
// Outlook Adapter
// =============================================================================

// OutlookAdapter implements out.EmailProviderPort for Microsoft Outlook/Graph API.
type OutlookAdapter struct {
	config *oauth2.Config
}

// OutlookConfig holds Outlook configuration.
type OutlookConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TenantID     string
}

// NewOutlookAdapter creates a new Outlook adapter.
func NewOutlookAdapter(cfg *OutlookConfig) *OutlookAdapter {
	tenantID := cfg.TenantID
	if tenantID == "" {
		tenantID = "common"
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"https://graph.microsoft.com/Mail.ReadWrite",
			"https://graph.microsoft.com/Mail.Send",
			"https://graph.microsoft.com/User.Read",
			"offline_access",
		},
		Endpoint: microsoft.AzureADEndpoint(tenantID),
	}

	return &OutlookAdapter{
		config: config,
	}
}

// ServiceName returns the provider identifier.
func (a *OutlookAdapter) ServiceName() string {
	return "outlook"
}

// =============================================================================
// Authentication
// =============================================================================

// GetAuthURL returns the OAuth authorization URL.
func (a *OutlookAdapter) GetAuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode exchanges an authorization code for a token pair. Graph omits
// the refresh token for some tenant policies; the account id from /me is
// substituted so downstream storage always has a second credential.
func (a *OutlookAdapter) ExchangeCode(ctx context.Context, code string) (*domain.TokenPair, error) {
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, out.NewProviderError("outlook", out.ProviderErrAuth, "failed to exchange authorization code", err, false)
	}

	pair := tokenPairFromOAuth(token)
	if pair.RefreshToken == "" {
		client := a.config.Client(ctx, token)
		var user graphUser
		if err := a.doGet(client, graphBaseURL+"/me", &user); err == nil {
			pair.RefreshToken = user.ID
		}
	}
	return pair, nil
}

// RefreshAccessToken obtains a fresh access token from a refresh token.
func (a *OutlookAdapter) RefreshAccessToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	src := a.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, out.NewProviderError("outlook", out.ProviderErrAuth, "failed to refresh token", err, false)
	}
	pair := tokenPairFromOAuth(token)
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// =============================================================================
// Messages
// =============================================================================

// FetchEmails lists messages through Graph. Offset maps directly onto $skip;
// the text filter rides on $search.
func (a *OutlookAdapter) FetchEmails(ctx context.Context, token *oauth2.Token, opts *domain.EmailFetchOptions) ([]domain.StandardizedEmail, error) {
	limit := opts.EffectiveLimit()
	if limit == 0 {
		return []domain.StandardizedEmail{}, nil
	}

	client := a.config.Client(ctx, token)

	params := url.Values{}
	params.Set("$top", fmt.Sprintf("%d", limit))
	params.Set("$select", "id,conversationId,subject,body,from,toRecipients,ccRecipients,isRead,importance,categories,hasAttachments,receivedDateTime")

	search := ""
	if opts != nil {
		if opts.Offset > 0 {
			params.Set("$skip", fmt.Sprintf("%d", opts.Offset))
		}
		search = opts.Filter
	}
	if search != "" {
		params.Set("$search", fmt.Sprintf("%q", search))
	} else {
		// Graph rejects $orderby combined with $search.
		params.Set("$orderby", "receivedDateTime desc")
	}

	endpoint := graphBaseURL + "/me/messages"
	if opts != nil && opts.FolderID != "" {
		endpoint = graphBaseURL + "/me/mailFolders/" + url.PathEscape(opts.FolderID) + "/messages"
	}

	var resp struct {
		Value []graphMailMessage `json:"value"`
	}
	if err := a.doGet(client, endpoint+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	emails := make([]domain.StandardizedEmail, 0, len(resp.Value))
	for i := range resp.Value {
		emails = append(emails, a.convertMessage(client, &resp.Value[i]))
	}
	return emails, nil
}

// FetchEmailByID retrieves one message.
func (a *OutlookAdapter) FetchEmailByID(ctx context.Context, token *oauth2.Token, id string) (*domain.StandardizedEmail, error) {
	client := a.config.Client(ctx, token)

	var msg graphMailMessage
	if err := a.doGet(client, graphBaseURL+"/me/messages/"+url.PathEscape(id), &msg); err != nil {
		return nil, err
	}

	email := a.convertMessage(client, &msg)
	return &email, nil
}

// SendEmail posts to the sendMail action. Graph acknowledges with 202 and no
// message id; a rejected delivery comes back as Success=false.
func (a *OutlookAdapter) SendEmail(ctx context.Context, token *oauth2.Token, draft *domain.OutgoingEmail) (*domain.SendResult, error) {
	client := a.config.Client(ctx, token)

	body := struct {
		Message         map[string]interface{} `json:"message"`
		SaveToSentItems bool                   `json:"saveToSentItems"`
	}{
		Message:         buildGraphOutgoing(draft),
		SaveToSentItems: true,
	}

	if err := a.doPost(client, graphBaseURL+"/me/sendMail", body, nil); err != nil {
		logger.WithProvider("outlook").WithError(err).Warn("send failed")
		return &domain.SendResult{Success: false}, nil
	}

	return &domain.SendResult{Success: true}, nil
}

// MarkAsRead patches the isRead flag. Patching a message that is already
// read succeeds, so the operation is idempotent.
func (a *OutlookAdapter) MarkAsRead(ctx context.Context, token *oauth2.Token, id string) bool {
	client := a.config.Client(ctx, token)

	err := a.doPatch(client, graphBaseURL+"/me/messages/"+url.PathEscape(id), map[string]bool{"isRead": true})
	if err != nil {
		logger.WithProvider("outlook").WithError(err).Warn("mark as read failed for %s", id)
		return false
	}
	return true
}

// =============================================================================
// Mailbox
// =============================================================================

// GetFolders lists mail folders. Graph carries unreadItemCount on the list
// response, so no follow-up requests are needed.
func (a *OutlookAdapter) GetFolders(ctx context.Context, token *oauth2.Token) ([]domain.Folder, error) {
	client := a.config.Client(ctx, token)

	var resp struct {
		Value []struct {
			ID              string `json:"id"`
			DisplayName     string `json:"displayName"`
			UnreadItemCount int64  `json:"unreadItemCount"`
		} `json:"value"`
	}
	if err := a.doGet(client, graphBaseURL+"/me/mailFolders", &resp); err != nil {
		return nil, err
	}

	folders := make([]domain.Folder, len(resp.Value))
	for i, f := range resp.Value {
		folders[i] = domain.Folder{
			ID:          f.ID,
			Name:        f.DisplayName,
			UnreadCount: f.UnreadItemCount,
		}
	}
	return folders, nil
}

// GetUserProfile resolves the account identity from /me.
func (a *OutlookAdapter) GetUserProfile(ctx context.Context, token *oauth2.Token) (*domain.UserProfile, error) {
	client := a.config.Client(ctx, token)

	var user graphUser
	if err := a.doGet(client, graphBaseURL+"/me", &user); err != nil {
		return nil, err
	}

	email := user.Mail
	if email == "" {
		email = user.UserPrincipalName
	}

	return &domain.UserProfile{
		Email: email,
		Name:  user.DisplayName,
	}, nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *OutlookAdapter) convertMessage(client *http.Client, msg *graphMailMessage) domain.StandardizedEmail {
	email := domain.StandardizedEmail{
		ID:         msg.ID,
		ThreadID:   msg.ConversationID,
		Subject:    msg.Subject,
		IsRead:     msg.IsRead,
		Categories: msg.Categories,
		Importance: domain.ParseImportance(msg.Importance),
	}

	if msg.From.EmailAddress.Address != "" {
		email.From = formatGraphAddress(msg.From.EmailAddress)
	}
	email.To = make([]string, len(msg.ToRecipients))
	for i, r := range msg.ToRecipients {
		email.To[i] = formatGraphAddress(r.EmailAddress)
	}
	email.Cc = make([]string, len(msg.CcRecipients))
	for i, r := range msg.CcRecipients {
		email.Cc[i] = formatGraphAddress(r.EmailAddress)
	}

	email.Body = msg.Body.Content
	if strings.EqualFold(msg.Body.ContentType, "html") {
		email.BodyType = domain.BodyTypeHTML
	} else {
		email.BodyType = domain.BodyTypeText
	}

	// Unparseable dates produce the zero timestamp, not an error.
	if msg.ReceivedDateTime != "" {
		if t, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
			email.Date = t
		}
	}

	if msg.HasAttachments {
		if attachments, err := a.listAttachments(client, msg.ID); err == nil {
			email.Attachments = attachments
		} else {
			logger.WithProvider("outlook").WithError(err).Debug("attachment list failed for %s", msg.ID)
		}
	}

	email.OriginalPayload = msg
	email.Normalize()
	return email
}

// listAttachments retrieves the flat attachment list for a message.
func (a *OutlookAdapter) listAttachments(client *http.Client, messageID string) ([]domain.Attachment, error) {
	var resp struct {
		Value []struct {
			Name        string `json:"name"`
			ContentType string `json:"contentType"`
			Size        int64  `json:"size"`
			ContentID   string `json:"contentId"`
		} `json:"value"`
	}

	endpoint := graphBaseURL + "/me/messages/" + url.PathEscape(messageID) + "/attachments?$select=id,name,contentType,size,contentId"
	if err := a.doGet(client, endpoint, &resp); err != nil {
		return nil, err
	}

	attachments := make([]domain.Attachment, len(resp.Value))
	for i, att := range resp.Value {
		attachments[i] = domain.Attachment{
			Filename:    att.Name,
			ContentType: att.ContentType,
			Size:        att.Size,
			ContentID:   att.ContentID,
		}
	}
	return attachments, nil
}

func buildGraphOutgoing(draft *domain.OutgoingEmail) map[string]interface{} {
	contentType := "text"
	if draft.BodyType == domain.BodyTypeHTML {
		contentType = "html"
	}

	result := map[string]interface{}{
		"subject": draft.Subject,
		"body": map[string]string{
			"contentType": contentType,
			"content":     draft.Body,
		},
		"toRecipients": buildGraphRecipients(draft.To),
	}
	if len(draft.Cc) > 0 {
		result["ccRecipients"] = buildGraphRecipients(draft.Cc)
	}
	return result
}

func buildGraphRecipients(addrs []string) []map[string]interface{} {
	recipients := make([]map[string]interface{}, len(addrs))
	for i, addr := range addrs {
		recipients[i] = map[string]interface{}{
			"emailAddress": map[string]string{
				"address": addr,
			},
		}
	}
	return recipients
}

func formatGraphAddress(addr graphEmailAddress) string {
	if addr.Name != "" && addr.Name != addr.Address {
		return fmt.Sprintf("%s <%s>", addr.Name, addr.Address)
	}
	return addr.Address
}

func (a *OutlookAdapter) doGet(client *http.Client, url string, result interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return a.wrapError(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return a.wrapHTTPError(resp.StatusCode, string(body))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func (a *OutlookAdapter) doPost(client *http.Client, url string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest("POST", url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return a.wrapError(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return a.wrapHTTPError(resp.StatusCode, string(respBody))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusAccepted {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func (a *OutlookAdapter) doPatch(client *http.Client, url string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("PATCH", url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return a.wrapError(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return a.wrapHTTPError(resp.StatusCode, string(respBody))
	}
	return nil
}

func (a *OutlookAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	return out.NewProviderError("outlook", out.ProviderErrNetwork, defaultMsg, err, true)
}

func (a *OutlookAdapter) wrapHTTPError(statusCode int, body string) error {
	switch statusCode {
	case 401:
		return out.NewProviderError("outlook", out.ProviderErrTokenExpired, "token expired", nil, false)
	case 403:
		return out.NewProviderError("outlook", out.ProviderErrAuth, "access denied", nil, false)
	case 404:
		return out.NewProviderError("outlook", out.ProviderErrNotFound, "not found", nil, false)
	case 429:
		return out.NewProviderError("outlook", out.ProviderErrRateLimit, "too many requests", nil, true)
	default:
		if statusCode >= 500 {
			return out.NewProviderError("outlook", out.ProviderErrServer, fmt.Sprintf("HTTP %d: %s", statusCode, body), nil, true)
		}
		return out.NewProviderError("outlook", out.ProviderErrInvalidInput, fmt.Sprintf("HTTP %d: %s", statusCode, body), nil, false)
	}
}

// Graph API types

type graphMailMessage struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversationId"`
	Subject          string           `json:"subject"`
	Body             graphBody        `json:"body"`
	From             graphRecipient   `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	CcRecipients     []graphRecipient `json:"ccRecipients"`
	IsRead           bool             `json:"isRead"`
	Importance       string           `json:"importance"`
	Categories       []string         `json:"categories"`
	HasAttachments   bool             `json:"hasAttachments"`
	ReceivedDateTime string           `json:"receivedDateTime"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type graphUser struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
	DisplayName       string `json:"displayName"`
}

var _ out.EmailProviderPort = (*OutlookAdapter)(nil)
