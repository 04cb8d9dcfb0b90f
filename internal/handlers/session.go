package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

// SessionHandler handles the voice agent's session callbacks and their read-back
type SessionHandler struct {
	repo *services.SessionRepository
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(repo *services.SessionRepository) *SessionHandler {
	return &SessionHandler{repo: repo}
}

type distortionsRequest struct {
	CognitiveDistortions []string `json:"cognitiveDistortions"`
}

type taskRequest struct {
	Task string `json:"task"`
}

// AddDistortions appends distortion tags to the session
// POST /sessions/:id/cognitive-distortions
func (h *SessionHandler) AddDistortions(c *fiber.Ctx) error {
	var req distortionsRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.repo.AppendDistortions(ctx, c.Params("id"), req.CognitiveDistortions)
	return writeAck(c, result, err, "distortion_id",
		"Cognitive distortions saved successfully. Continue the conversation with the user.",
		"Failed to save cognitive distortions. You can still continue the conversation with the user.")
}

// GetDistortions returns the session's distortion record as a zero or one item list
// GET /sessions/:id/cognitive-distortions
func (h *SessionHandler) GetDistortions(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	records := []*models.DistortionsRecord{}
	rec, err := h.repo.GetDistortions(ctx, c.Params("id"))
	switch {
	case err == nil:
		records = append(records, rec)
	case services.IsNotFound(err):
	default:
		log.Printf("❌ [SESSION] Failed to get distortions: %v", err)
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"cognitiveDistortions": records})
}

// AddTask appends one task to the session
// POST /sessions/:id/tasks
func (h *SessionHandler) AddTask(c *fiber.Ctx) error {
	var req taskRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.repo.AppendTask(ctx, c.Params("id"), req.Task)
	return writeAck(c, result, err, "task_id",
		"User task saved successfully. Continue the conversation with the user.",
		"Failed to save user task. You can still continue the conversation with the user.")
}

// GetTasks returns the session's task record
// GET /sessions/:id/tasks
func (h *SessionHandler) GetTasks(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	rec, err := h.repo.GetTasks(ctx, c.Params("id"))
	if services.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message":   "No tasks found",
			"userTasks": []*models.TasksRecord{},
		})
	}
	if err != nil {
		log.Printf("❌ [SESSION] Failed to get tasks: %v", err)
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"userTasks": []*models.TasksRecord{rec}})
}

// SaveSummary replaces the session summary
// POST /sessions/:id/summary
func (h *SessionHandler) SaveSummary(c *fiber.Ctx) error {
	var req models.SummaryInput
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	result, err := h.repo.SaveSummary(ctx, c.Params("id"), req)
	return writeAck(c, result, err, "summary_id",
		"Conversation summary saved successfully. Continue the conversation with the user.",
		"Failed to save conversation summary. You can still continue the conversation with the user.")
}
