package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

// SummaryHandler serves stored conversation summaries to the front-end
type SummaryHandler struct {
	repo *services.SessionRepository
}

// NewSummaryHandler creates a new summary handler
func NewSummaryHandler(repo *services.SessionRepository) *SummaryHandler {
	return &SummaryHandler{repo: repo}
}

// List returns every summary, newest first
// GET /summaries
func (h *SummaryHandler) List(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	summaries, err := h.repo.ListSummaries(ctx)
	if err != nil {
		log.Printf("❌ [SESSION] Failed to list summaries: %v", err)
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"summaries": summaries})
}

// Get returns the summary of one session
// GET /summaries/:id
func (h *SummaryHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	summary, err := h.repo.GetSummary(ctx, c.Params("id"))
	if services.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Summary not found",
		})
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(summary)
}
