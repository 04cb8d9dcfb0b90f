package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// Routes bundles the handlers of the HTTP surface
type Routes struct {
	Health    *HealthHandler
	Sessions  *SessionHandler
	Summaries *SummaryHandler
	Resources *ResourceHandler
	Calls     *CallHandler
	Emails    *EmailHandler
	Waitlist  *WaitlistHandler

	// Optional rate limiters: tool calls guard session writes, reads guard every GET and form
	ToolCallLimiter fiber.Handler
	ReadLimiter     fiber.Handler
}

// Mount registers every route on the router
func (r *Routes) Mount(router fiber.Router) {
	router.Get("/", r.Health.Root)
	router.Get("/health", r.Health.Handle)

	// Voice agent callbacks, scoped to the session in the path. Writes count
	// against the tool-call limit, reads against the public read limit.
	tool := orNext(r.ToolCallLimiter)
	read := orNext(r.ReadLimiter)
	sessions := router.Group("/sessions/:id")
	sessions.Post("/cognitive-distortions", tool, r.Sessions.AddDistortions)
	sessions.Get("/cognitive-distortions", read, r.Sessions.GetDistortions)
	sessions.Post("/tasks", tool, r.Sessions.AddTask)
	sessions.Get("/tasks", read, r.Sessions.GetTasks)
	sessions.Post("/summary", tool, r.Sessions.SaveSummary)
	sessions.Post("/resources", tool, r.Resources.Create)
	sessions.Get("/resources", read, r.Resources.Get)
	sessions.Post("/calls", tool, r.Calls.Create)

	// Front-end reads and forms
	router.Get("/summaries", read, r.Summaries.List)
	router.Get("/summaries/:id", read, r.Summaries.Get)
	router.Post("/emails", read, r.Emails.Send)
	router.Post("/waitlist", read, r.Waitlist.Join)
}

func orNext(h fiber.Handler) fiber.Handler {
	if h != nil {
		return h
	}
	return func(c *fiber.Ctx) error { return c.Next() }
}
