// Package http implements the inbound HTTP surface.
package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/oauth2"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
	"unibox_server/core/service/session"
	"unibox_server/pkg/apperr"
	"unibox_server/pkg/response"
)

// EmailHandler serves the provider-backed email endpoints. Every route is
// scoped to a service path segment; the credential comes from the
// Authorization header, falling back to the stored session pair.
type EmailHandler struct {
	factory  out.ProviderFactoryPort
	sessions *session.Manager
	maxFetch int
}

// NewEmailHandler creates the email handler. maxFetch caps the per-request
// list window.
func NewEmailHandler(factory out.ProviderFactoryPort, sessions *session.Manager, maxFetch int) *EmailHandler {
	return &EmailHandler{
		factory:  factory,
		sessions: sessions,
		maxFetch: maxFetch,
	}
}

// Register mounts the email routes.
func (h *EmailHandler) Register(app fiber.Router) {
	app.Get("/:service/emails", h.ListEmails)
	app.Post("/:service/emails", h.SendEmail)
	app.Get("/:service/emails/:id", h.GetEmail)
	app.Patch("/:service/emails/:id/read", h.MarkAsRead)
	app.Get("/:service/folders", h.ListFolders)
	app.Get("/:service/profile", h.GetProfile)
}

// ListEmails handles GET /:service/emails.
func (h *EmailHandler) ListEmails(c *fiber.Ctx) error {
	provider, token, err := h.resolve(c)
	if err != nil {
		return err
	}

	params := response.GetFetchParams(c, h.maxFetch)
	opts := &domain.EmailFetchOptions{
		Limit:              params.Limit,
		LimitSet:           params.LimitSet,
		Offset:             params.Offset,
		Filter:             params.Filter,
		FolderID:           params.FolderID,
		IncludeAttachments: params.IncludeAttachments,
	}

	emails, err := provider.FetchEmails(c.UserContext(), token, opts)
	if err != nil {
		return err
	}

	return response.OKWithMeta(c, emails, &response.Meta{
		Count:   len(emails),
		Limit:   opts.EffectiveLimit(),
		Offset:  opts.Offset,
		Service: provider.ServiceName(),
	})
}

// GetEmail handles GET /:service/emails/:id.
func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	provider, token, err := h.resolve(c)
	if err != nil {
		return err
	}

	email, err := provider.FetchEmailByID(c.UserContext(), token, c.Params("id"))
	if err != nil {
		return err
	}
	return response.OK(c, email)
}

// SendEmail handles POST /:service/emails.
func (h *EmailHandler) SendEmail(c *fiber.Ctx) error {
	provider, token, err := h.resolve(c)
	if err != nil {
		return err
	}

	var draft domain.OutgoingEmail
	if err := c.BodyParser(&draft); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}
	if len(draft.To) == 0 {
		return apperr.MissingField("to")
	}
	if draft.Subject == "" {
		return apperr.MissingField("subject")
	}

	result, err := provider.SendEmail(c.UserContext(), token, &draft)
	if err != nil {
		return err
	}
	return response.Created(c, result)
}

// MarkAsRead handles PATCH /:service/emails/:id/read. The provider reports
// the outcome as a boolean; failure is part of the payload, not an error.
func (h *EmailHandler) MarkAsRead(c *fiber.Ctx) error {
	provider, token, err := h.resolve(c)
	if err != nil {
		return err
	}

	ok := provider.MarkAsRead(c.UserContext(), token, c.Params("id"))
	return response.OK(c, fiber.Map{"success": ok})
}

// ListFolders handles GET /:service/folders.
func (h *EmailHandler) ListFolders(c *fiber.Ctx) error {
	provider, token, err := h.resolve(c)
	if err != nil {
		return err
	}

	folders, err := provider.GetFolders(c.UserContext(), token)
	if err != nil {
		return err
	}
	return response.OK(c, folders)
}

// GetProfile handles GET /:service/profile.
func (h *EmailHandler) GetProfile(c *fiber.Ctx) error {
	provider, token, err := h.resolve(c)
	if err != nil {
		return err
	}

	profile, err := provider.GetUserProfile(c.UserContext(), token)
	if err != nil {
		return err
	}
	return response.OK(c, profile)
}

// resolve maps the service path segment to a provider and picks the bearer
// credential for the call. A token supplied via the Authorization header
// wins; otherwise the stored session pair is used, but only when the session
// is bound to the same service the path names.
func (h *EmailHandler) resolve(c *fiber.Ctx) (out.EmailProviderPort, *oauth2.Token, error) {
	service := domain.Service(c.Params("service"))

	provider, err := h.factory.GetProvider(service)
	if err != nil {
		return nil, nil, err
	}

	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if raw == "" || raw == header {
			return nil, nil, apperr.Unauthorized("malformed Authorization header, want Bearer scheme")
		}
		return provider, &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}, nil
	}

	ctx := c.UserContext()
	active, err := h.sessions.ActiveService(ctx)
	if err != nil {
		return nil, nil, err
	}
	if active != service {
		return nil, nil, apperr.Unauthorized("not authenticated with " + string(service))
	}

	tokens, err := h.sessions.Tokens(ctx)
	if err != nil {
		return nil, nil, err
	}
	if tokens == nil {
		return nil, nil, apperr.Unauthorized("not authenticated with " + string(service))
	}

	return provider, &oauth2.Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    "Bearer",
	}, nil
}
