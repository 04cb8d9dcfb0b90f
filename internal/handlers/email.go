package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

// EmailHandler sends post-session recaps
type EmailHandler struct {
	emails *services.EmailService
}

// NewEmailHandler creates a new email handler
func NewEmailHandler(emails *services.EmailService) *EmailHandler {
	return &EmailHandler{emails: emails}
}

// Send emails the insights to the given address
// POST /emails
func (h *EmailHandler) Send(c *fiber.Ctx) error {
	var req models.EmailRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := h.emails.SendInsights(ctx, req); err != nil {
		if services.IsValidation(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": messageOf(err),
			})
		}
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Email sent successfully"})
}
