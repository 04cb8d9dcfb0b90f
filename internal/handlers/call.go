package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

// CallHandler provisions voice calls
type CallHandler struct {
	dispatcher services.CallDispatcher
}

// NewCallHandler creates a new call handler
func NewCallHandler(dispatcher services.CallDispatcher) *CallHandler {
	return &CallHandler{dispatcher: dispatcher}
}

// Create starts a call bound to the session in the path
// POST /sessions/:id/calls
func (h *CallHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	joinURL, err := h.dispatcher.CreateCall(ctx, c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"joinUrl": joinURL})
}
