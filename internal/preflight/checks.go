package preflight

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/marianar97/maggie-web-api-endpoint/internal/config"
	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// Checker performs pre-flight checks before server starts
type Checker struct {
	store database.DocumentStore
	cfg   *config.Config
}

// NewChecker creates a new preflight checker
func NewChecker(store database.DocumentStore, cfg *config.Config) *Checker {
	return &Checker{store: store, cfg: cfg}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkStoreConnection(ctx),
		c.checkAgentProfile(),
		c.checkCallProvider(),
		c.checkSearchProvider(),
		c.checkEmailProvider(),
	}

	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkStoreConnection(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		return CheckResult{
			Name:    "Document Store",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot reach %s store", c.cfg.StoreBackend),
			Error:   err,
		}
	}

	return CheckResult{
		Name:    "Document Store",
		Status:  "pass",
		Message: fmt.Sprintf("%s store reachable", c.cfg.StoreBackend),
	}
}

// checkAgentProfile renders the profile once so template errors surface before the first call
func (c *Checker) checkAgentProfile() CheckResult {
	profile, err := services.LoadAgentProfile(c.cfg.AgentProfilePath)
	if err == nil {
		_, err = profile.RenderPrompt("preflight")
	}
	if err != nil {
		return CheckResult{
			Name:    "Agent Profile",
			Status:  "fail",
			Message: "Agent profile is invalid",
			Error:   err,
		}
	}

	source := "embedded default"
	if c.cfg.AgentProfilePath != "" {
		source = c.cfg.AgentProfilePath
	}
	return CheckResult{
		Name:    "Agent Profile",
		Status:  "pass",
		Message: fmt.Sprintf("%d tools declared (%s)", len(profile.Tools), source),
	}
}

func (c *Checker) checkCallProvider() CheckResult {
	if c.cfg.UltravoxAPIKey == "" {
		return warning("Call Provider", "ULTRAVOX_API_KEY not set, calls will fail")
	}
	if strings.HasPrefix(c.cfg.PublicBaseURL, "http://localhost") && c.cfg.IsProduction() {
		return warning("Call Provider", "PUBLIC_BASE_URL points to localhost, tool callbacks will not reach this server")
	}
	return pass("Call Provider", "Ultravox configured")
}

func (c *Checker) checkSearchProvider() CheckResult {
	if c.cfg.SearchProvider == "exa" && c.cfg.ExaAPIKey == "" {
		return warning("Search Provider", "EXA_API_KEY not set, resource searches will fail")
	}
	return pass("Search Provider", fmt.Sprintf("%s configured", c.cfg.SearchProvider))
}

func (c *Checker) checkEmailProvider() CheckResult {
	switch c.cfg.EmailProvider {
	case "brevo":
		if c.cfg.BrevoAPIKey == "" || c.cfg.EmailAddress == "" {
			return warning("Email Provider", "BREVO_API_KEY or EMAIL_ADDRESS not set, emails will fail")
		}
	default:
		if c.cfg.EmailAddress == "" || c.cfg.EmailPassword == "" {
			return warning("Email Provider", "EMAIL_ADDRESS or EMAIL_PASSWORD not set, emails will fail")
		}
	}
	return pass("Email Provider", fmt.Sprintf("%s configured", c.cfg.EmailProvider))
}

func pass(name, message string) CheckResult {
	return CheckResult{Name: name, Status: "pass", Message: message}
}

func warning(name, message string) CheckResult {
	return CheckResult{Name: name, Status: "warning", Message: message}
}
