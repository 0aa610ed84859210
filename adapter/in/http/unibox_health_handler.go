package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"unibox_server/core/port/out"
	"unibox_server/pkg/response"
)

// HealthHandler reports process liveness and token store reachability.
type HealthHandler struct {
	store   out.TokenStorePort
	started time.Time
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(store out.TokenStorePort) *HealthHandler {
	return &HealthHandler{
		store:   store,
		started: time.Now(),
	}
}

// Register mounts the health route.
func (h *HealthHandler) Register(app fiber.Router) {
	app.Get("/health", h.Health)
}

// Health handles GET /health. A failing store degrades the report but the
// endpoint still answers 200 so orchestrators can see the process alive.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	storeStatus := "ok"
	if err := h.store.Ping(c.UserContext()); err != nil {
		storeStatus = "unreachable"
	}

	return response.OK(c, fiber.Map{
		"status":         "ok",
		"token_store":    storeStatus,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}
