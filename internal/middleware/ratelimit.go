package middleware

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/marianar97/maggie-web-api-endpoint/internal/config"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Tool callbacks from the voice agent (per session id)
	ToolCallMax        int
	ToolCallExpiration time.Duration

	// Front-end reads and public forms (per IP)
	PublicReadMax        int
	PublicReadExpiration time.Duration

	// Shared counter storage; nil keeps counters in process memory
	Storage fiber.Storage
}

// LoadRateLimitConfig builds limits from the application config
func LoadRateLimitConfig(cfg *config.Config, storage fiber.Storage) *RateLimitConfig {
	rl := &RateLimitConfig{
		ToolCallMax:          cfg.RateLimitToolCall,
		ToolCallExpiration:   1 * time.Minute,
		PublicReadMax:        cfg.RateLimitRead,
		PublicReadExpiration: 1 * time.Minute,
		Storage:              storage,
	}

	if rl.ToolCallMax <= 0 {
		rl.ToolCallMax = 120
	}
	if rl.PublicReadMax <= 0 {
		rl.PublicReadMax = 240
	}

	// Development mode: more lenient limits
	if cfg.Environment == "development" {
		rl.ToolCallMax *= 5
		rl.PublicReadMax *= 5
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return rl
}

// ToolCallRateLimiter limits callbacks per session so one runaway call cannot starve others
func ToolCallRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.ToolCallMax,
		Expiration: config.ToolCallExpiration,
		Storage:    config.Storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if sessionID := c.Params("id"); sessionID != "" {
				return "session:" + sessionID
			}
			return "session-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Tool call limit reached for session: %s on %s", c.Params("id"), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests for this session. Please wait before trying again.",
				"retry_after": int(config.ToolCallExpiration.Seconds()),
			})
		},
	})
}

// PublicReadRateLimiter for front-end reads, keyed by client IP
func PublicReadRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.PublicReadMax,
		Expiration: config.PublicReadExpiration,
		Storage:    config.Storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "public:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] Public endpoint limit reached for IP: %s on %s", c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests to this endpoint.",
				"retry_after": int(config.PublicReadExpiration.Seconds()),
			})
		},
	})
}
