package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

// ResourceHandler schedules resource searches and serves their results
type ResourceHandler struct {
	repo    *services.SessionRepository
	fetcher *services.ResourceFetcher
}

// NewResourceHandler creates a new resource handler
func NewResourceHandler(repo *services.SessionRepository, fetcher *services.ResourceFetcher) *ResourceHandler {
	return &ResourceHandler{repo: repo, fetcher: fetcher}
}

type resourcesRequest struct {
	Query string `json:"query"`
}

// Create acknowledges immediately; the search runs in the background
// POST /sessions/:id/resources
func (h *ResourceHandler) Create(c *fiber.Ctx) error {
	// Params alias the request buffer, which is reused once the handler returns
	sessionID := utils.CopyString(c.Params("id"))

	var req resourcesRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	fetchID, err := h.fetcher.Schedule(sessionID, req.Query)
	if err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": messageOf(err),
				"status":  models.SaveStatusError,
			})
		}
		log.Printf("❌ [RESOURCES] Failed to schedule fetch: %v", err)
		return c.Status(statusOf(err)).JSON(fiber.Map{
			"message": "Failed to create resources. You can still continue the conversation with the user.",
			"status":  models.SaveStatusError,
			"error":   messageOf(err),
		})
	}

	log.Printf("🔍 [RESOURCES] Scheduled fetch %s for session %s", fetchID, sessionID)
	return c.JSON(fiber.Map{
		"message":  "Resources created successfully",
		"status":   models.SaveStatusSuccess,
		"fetch_id": fetchID,
	})
}

// Get returns the resources stored by the latest fetch
// GET /sessions/:id/resources
func (h *ResourceHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	rec, err := h.repo.GetResources(ctx, c.Params("id"))
	if services.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "No resources found",
		})
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(rec)
}
