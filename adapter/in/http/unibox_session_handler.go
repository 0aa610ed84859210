package http

import (
	"github.com/gofiber/fiber/v2"

	"unibox_server/core/domain"
	"unibox_server/core/service/session"
	"unibox_server/pkg/apperr"
	"unibox_server/pkg/response"
)

// SessionHandler exposes session introspection and direct token management.
// Direct token injection exists for local development and test rigs; the
// normal path is the OAuth callback.
type SessionHandler struct {
	sessions *session.Manager
}

// NewSessionHandler creates the session handler.
func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Register mounts the session routes.
func (h *SessionHandler) Register(app fiber.Router) {
	app.Get("/session", h.GetSession)
	app.Post("/session/service", h.SetService)
	app.Post("/session/tokens", h.SetTokens)
	app.Delete("/session/tokens", h.ClearTokens)
}

// GetSession handles GET /session.
func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	ctx := c.UserContext()

	service, err := h.sessions.ActiveService(ctx)
	if err != nil {
		return err
	}
	authenticated, err := h.sessions.IsAuthenticated(ctx)
	if err != nil {
		return err
	}

	return response.OK(c, fiber.Map{
		"service":       service,
		"authenticated": authenticated,
	})
}

type setServiceRequest struct {
	Service string `json:"service"`
}

// SetService handles POST /session/service.
func (h *SessionHandler) SetService(c *fiber.Ctx) error {
	var req setServiceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}
	if req.Service == "" {
		return apperr.MissingField("service")
	}

	if err := h.sessions.SetActiveService(c.UserContext(), domain.Service(req.Service)); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"service": req.Service})
}

type setTokensRequest struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// SetTokens handles POST /session/tokens.
func (h *SessionHandler) SetTokens(c *fiber.Ctx) error {
	var req setTokensRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body").WithError(err)
	}

	tokens := &domain.TokenPair{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresIn:    req.ExpiresIn,
	}
	if err := h.sessions.SetTokens(c.UserContext(), tokens); err != nil {
		return err
	}
	return response.OK(c, fiber.Map{"authenticated": true})
}

// ClearTokens handles DELETE /session/tokens. The service selection stays.
func (h *SessionHandler) ClearTokens(c *fiber.Ctx) error {
	if err := h.sessions.ClearTokens(c.UserContext()); err != nil {
		return err
	}
	return response.NoContent(c)
}
