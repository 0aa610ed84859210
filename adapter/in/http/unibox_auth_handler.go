package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/google/uuid"

	"unibox_server/core/domain"
	"unibox_server/core/port/out"
	"unibox_server/core/service/session"
	"unibox_server/pkg/apperr"
	"unibox_server/pkg/logger"
	"unibox_server/pkg/response"
)

// AuthHandler drives the OAuth flow: service-specific auth URL, provider
// callback, and token refresh.
type AuthHandler struct {
	factory  out.ProviderFactoryPort
	sessions *session.Manager
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(factory out.ProviderFactoryPort, sessions *session.Manager) *AuthHandler {
	return &AuthHandler{
		factory:  factory,
		sessions: sessions,
	}
}

// Register mounts the auth routes, all scoped to the service path segment.
func (h *AuthHandler) Register(app fiber.Router) {
	app.Get("/:service/auth", h.BeginAuth)
	app.Get("/:service/auth/callback", h.Callback)
	app.Post("/:service/auth/refresh", h.RefreshToken)
}

// BeginAuth handles GET /:service/auth. It records the service as the
// session's active one so the client flow continues against the same
// provider.
func (h *AuthHandler) BeginAuth(c *fiber.Ctx) error {
	// Copy: the param aliases fasthttp's reused buffer, and the value
	// outlives this request inside the session manager.
	service := domain.Service(utils.CopyString(c.Params("service")))

	provider, err := h.factory.GetProvider(service)
	if err != nil {
		return err
	}
	if err := h.sessions.SetActiveService(c.UserContext(), service); err != nil {
		return err
	}

	state := uuid.New().String()
	return response.OK(c, fiber.Map{
		"auth_url": provider.GetAuthURL(state),
		"service":  provider.ServiceName(),
		"state":    state,
	})
}

// Callback handles GET /:service/auth/callback. The provider redirects here
// with an authorization code; the exchange result becomes the session's
// tokens and is echoed back so the client can store the pair itself.
func (h *AuthHandler) Callback(c *fiber.Ctx) error {
	ctx := c.UserContext()
	// Copy: the param aliases fasthttp's reused buffer, and the value
	// outlives this request inside the session manager.
	service := domain.Service(utils.CopyString(c.Params("service")))

	provider, err := h.factory.GetProvider(service)
	if err != nil {
		return err
	}

	if errParam := c.Query("error"); errParam != "" {
		return apperr.BadRequest("authorization denied: " + errParam)
	}
	code := c.Query("code")
	if code == "" {
		return apperr.MissingField("code")
	}

	tokens, err := provider.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}

	// Service first: switching services drops any previous pair.
	if err := h.sessions.SetActiveService(ctx, service); err != nil {
		return err
	}
	if err := h.sessions.SetTokens(ctx, tokens); err != nil {
		return err
	}

	logger.WithProvider(provider.ServiceName()).Info("OAuth flow completed")

	return response.OK(c, fiber.Map{
		"accessToken":  tokens.AccessToken,
		"refreshToken": tokens.RefreshToken,
		"service":      provider.ServiceName(),
		"expiresIn":    tokens.ExpiresIn,
	})
}

// RefreshToken handles POST /:service/auth/refresh using the stored refresh
// token. The new pair replaces the session's tokens.
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	ctx := c.UserContext()
	service := domain.Service(c.Params("service"))

	provider, err := h.factory.GetProvider(service)
	if err != nil {
		return err
	}

	active, err := h.sessions.ActiveService(ctx)
	if err != nil {
		return err
	}
	if active != service {
		return apperr.BadRequest("service mismatch: session is bound to " + string(active))
	}

	current, err := h.sessions.Tokens(ctx)
	if err != nil {
		return err
	}
	if current == nil || current.RefreshToken == "" {
		return apperr.Unauthorized("no refresh token available for " + string(service))
	}

	refreshed, err := provider.RefreshAccessToken(ctx, current.RefreshToken)
	if err != nil {
		return err
	}
	if err := h.sessions.SetTokens(ctx, refreshed); err != nil {
		return err
	}

	return response.OK(c, fiber.Map{
		"refreshed":  true,
		"service":    provider.ServiceName(),
		"expires_in": refreshed.ExpiresIn,
	})
}
