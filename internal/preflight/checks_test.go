package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marianar97/maggie-web-api-endpoint/internal/config"
	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
)

func testConfig() *config.Config {
	return &config.Config{
		StoreBackend:   config.StoreMemory,
		PublicBaseURL:  "https://maggie.example.com",
		UltravoxAPIKey: "key",
		SearchProvider: "exa",
		ExaAPIKey:      "key",
		EmailProvider:  "smtp",
		EmailAddress:   "maggie@example.com",
		EmailPassword:  "secret",
	}
}

func TestCheckStoreConnection_Success(t *testing.T) {
	checker := NewChecker(database.NewMemoryStore(), testConfig())
	result := checker.checkStoreConnection(context.Background())

	if result.Status != "pass" {
		t.Errorf("Expected status 'pass', got '%s'", result.Status)
	}
	if result.Name != "Document Store" {
		t.Errorf("Expected name 'Document Store', got '%s'", result.Name)
	}
}

func TestCheckStoreConnection_Failure(t *testing.T) {
	checker := NewChecker(database.NewMemoryStore(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := checker.checkStoreConnection(ctx)

	if result.Status != "fail" {
		t.Errorf("Expected status 'fail', got '%s'", result.Status)
	}
	if result.Error == nil {
		t.Error("Expected error to be set")
	}
}

func TestCheckAgentProfile(t *testing.T) {
	cfg := testConfig()
	checker := NewChecker(database.NewMemoryStore(), cfg)

	if result := checker.checkAgentProfile(); result.Status != "pass" {
		t.Errorf("embedded profile: expected 'pass', got '%s' (%v)", result.Status, result.Error)
	}

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(broken, []byte("systemPrompt: \"{{.Missing\"\n"), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	cfg.AgentProfilePath = broken
	if result := checker.checkAgentProfile(); result.Status != "fail" {
		t.Errorf("broken profile: expected 'fail', got '%s'", result.Status)
	}

	cfg.AgentProfilePath = filepath.Join(t.TempDir(), "missing.yaml")
	if result := checker.checkAgentProfile(); result.Status != "fail" {
		t.Errorf("missing profile: expected 'fail', got '%s'", result.Status)
	}
}

func TestProviderWarnings(t *testing.T) {
	cfg := testConfig()
	cfg.UltravoxAPIKey = ""
	cfg.ExaAPIKey = ""
	cfg.EmailPassword = ""
	checker := NewChecker(database.NewMemoryStore(), cfg)

	results := checker.RunAll(context.Background())
	if HasFailures(results) {
		t.Fatalf("missing credentials must only warn, got %+v", results)
	}

	warnings := 0
	for _, r := range results {
		if r.Status == "warning" {
			warnings++
		}
	}
	if warnings != 3 {
		t.Errorf("Expected 3 warnings, got %d", warnings)
	}
}

func TestHasFailures(t *testing.T) {
	tests := []struct {
		name     string
		results  []CheckResult
		expected bool
	}{
		{
			name:     "no failures",
			results:  []CheckResult{{Status: "pass"}, {Status: "warning"}},
			expected: false,
		},
		{
			name:     "one failure",
			results:  []CheckResult{{Status: "pass"}, {Status: "fail"}},
			expected: true,
		},
		{
			name:     "empty",
			results:  nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasFailures(tt.results); got != tt.expected {
				t.Errorf("HasFailures() = %v, want %v", got, tt.expected)
			}
		})
	}
}
