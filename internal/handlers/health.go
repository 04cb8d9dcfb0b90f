package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
	"github.com/marianar97/maggie-web-api-endpoint/internal/jobs"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	store   database.DocumentStore
	probe   *jobs.StoreProbe
	backend string
}

// NewHealthHandler creates a new health handler. probe may be nil.
func NewHealthHandler(store database.DocumentStore, probe *jobs.StoreProbe, backend string) *HealthHandler {
	return &HealthHandler{store: store, probe: probe, backend: backend}
}

// Root is the liveness payload
// GET /
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"message": "Hello, World!"})
}

// Handle responds with server and store health
// GET /health
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	store := fiber.Map{"backend": h.backend, "reachable": true}
	status := "healthy"
	code := fiber.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		store["reachable"] = false
		store["error"] = err.Error()
		status = "degraded"
		code = fiber.StatusServiceUnavailable
	}
	if h.probe != nil {
		if last := h.probe.Status(); !last.CheckedAt.IsZero() {
			store["last_probe"] = last
		}
	}

	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"store":     store,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
