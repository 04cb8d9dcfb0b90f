package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

const requestTimeout = 15 * time.Second

func requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), requestTimeout)
}

func statusOf(err error) int {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return svcErr.HTTPStatus()
	}
	return fiber.StatusInternalServerError
}

// messageOf returns the user-facing message of a classified error
func messageOf(err error) string {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return err.Error()
}

// writeAck answers a tool callback. The voice agent reads the message aloud or acts on
// it, so storage failures still tell it to carry on with the conversation.
func writeAck(c *fiber.Ctx, result models.WriteResult, err error, idField, saved, failed string) error {
	if err == nil {
		return c.JSON(fiber.Map{
			"message": saved,
			idField:   result.DocumentID,
			"status":  result.Status,
		})
	}

	if services.IsValidation(err) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": messageOf(err),
			"status":  models.SaveStatusError,
		})
	}

	return c.Status(statusOf(err)).JSON(fiber.Map{
		"message": failed,
		idField:   result.DocumentID,
		"status":  models.SaveStatusError,
		"error":   err.Error(),
	})
}

// writeError answers a read or dispatch failure
func writeError(c *fiber.Ctx, err error) error {
	body := fiber.Map{"error": messageOf(err)}

	var svcErr *services.Error
	if errors.As(err, &svcErr) && svcErr.Details != "" {
		body["details"] = svcErr.Details
	}
	return c.Status(statusOf(err)).JSON(body)
}

func invalidBody(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid request body",
		"status":  models.SaveStatusError,
	})
}
