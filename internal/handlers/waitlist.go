package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

// WaitlistHandler records early-access sign-ups
type WaitlistHandler struct {
	waitlist *services.WaitlistService
}

// NewWaitlistHandler creates a new waitlist handler
func NewWaitlistHandler(waitlist *services.WaitlistService) *WaitlistHandler {
	return &WaitlistHandler{waitlist: waitlist}
}

type waitlistRequest struct {
	Email string `json:"email"`
}

// Join adds an address to the waitlist
// POST /waitlist
func (h *WaitlistHandler) Join(c *fiber.Ctx) error {
	var req waitlistRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	id, err := h.waitlist.Add(ctx, req.Email)
	if err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": messageOf(err),
			})
		}
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":     "User added to waitlist successfully",
		"waitlist_id": id,
	})
}
