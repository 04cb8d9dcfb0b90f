package services

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed profiles/maggie.yaml
var defaultAgentProfile []byte

const profileReloadDebounce = 500 * time.Millisecond

// AgentProfile describes the voice agent a call is created with
type AgentProfile struct {
	Name         string             `yaml:"name"`
	Voice        string             `yaml:"voice"`
	FirstSpeaker FirstSpeakerConfig `yaml:"firstSpeaker"`
	SystemPrompt string             `yaml:"systemPrompt"`
	Tools        []AgentTool        `yaml:"tools"`

	prompt *template.Template
}

// FirstSpeakerConfig is what the agent says when the call opens
type FirstSpeakerConfig struct {
	Uninterruptible bool   `yaml:"uninterruptible"`
	Text            string `yaml:"text"`
}

// AgentTool is a callback the agent can invoke during the call.
// Path is relative to {PUBLIC_BASE_URL}/sessions/{sessionID}/.
type AgentTool struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Path        string           `yaml:"path"`
	Method      string           `yaml:"method"`
	Parameters  []AgentToolParam `yaml:"parameters"`
}

// AgentToolParam is one body parameter of a tool
type AgentToolParam struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	Items       string `yaml:"items,omitempty"`
	Required    bool   `yaml:"required"`
}

// ParseAgentProfile decodes and validates a YAML profile
func ParseAgentProfile(data []byte) (*AgentProfile, error) {
	var profile AgentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse agent profile: %w", err)
	}
	if err := profile.validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// LoadAgentProfile reads the profile at path, or the embedded default when path is empty
func LoadAgentProfile(path string) (*AgentProfile, error) {
	if path == "" {
		return ParseAgentProfile(defaultAgentProfile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent profile %s: %w", path, err)
	}
	return ParseAgentProfile(data)
}

func (p *AgentProfile) validate() error {
	if strings.TrimSpace(p.SystemPrompt) == "" {
		return fmt.Errorf("agent profile has no systemPrompt")
	}
	tmpl, err := template.New("systemPrompt").Option("missingkey=error").Parse(p.SystemPrompt)
	if err != nil {
		return fmt.Errorf("invalid systemPrompt template: %w", err)
	}
	p.prompt = tmpl

	seen := make(map[string]bool, len(p.Tools))
	for i := range p.Tools {
		tool := &p.Tools[i]
		if tool.Name == "" {
			return fmt.Errorf("tool %d has no name", i)
		}
		if seen[tool.Name] {
			return fmt.Errorf("duplicate tool %q", tool.Name)
		}
		seen[tool.Name] = true

		if tool.Path == "" || strings.Contains(tool.Path, "..") {
			return fmt.Errorf("tool %q has an invalid path %q", tool.Name, tool.Path)
		}
		tool.Path = strings.Trim(tool.Path, "/")
		if tool.Method == "" {
			tool.Method = http.MethodPost
		}
		tool.Method = strings.ToUpper(tool.Method)

		for _, param := range tool.Parameters {
			if param.Name == "" || param.Type == "" {
				return fmt.Errorf("tool %q has a parameter without name or type", tool.Name)
			}
			if param.Type == "array" && param.Items == "" {
				return fmt.Errorf("tool %q parameter %q is an array without items", tool.Name, param.Name)
			}
		}
	}
	return nil
}

// RenderPrompt fills the system prompt for one session
func (p *AgentProfile) RenderPrompt(sessionID string) (string, error) {
	var buf bytes.Buffer
	if err := p.prompt.Execute(&buf, struct{ SessionID string }{sessionID}); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return buf.String(), nil
}

// ToolURL is the callback URL of a tool for one session
func ToolURL(publicBaseURL, sessionID string, tool AgentTool) string {
	return fmt.Sprintf("%s/sessions/%s/%s", strings.TrimSuffix(publicBaseURL, "/"), sessionID, tool.Path)
}

// AgentProfileStore holds the active profile and swaps it when the file changes
type AgentProfileStore struct {
	path    string
	current atomic.Pointer[AgentProfile]
}

// NewAgentProfileStore loads the initial profile. An empty path uses the embedded default.
func NewAgentProfileStore(path string) (*AgentProfileStore, error) {
	profile, err := LoadAgentProfile(path)
	if err != nil {
		return nil, err
	}
	s := &AgentProfileStore{path: path}
	s.current.Store(profile)
	return s, nil
}

// Current returns the active profile
func (s *AgentProfileStore) Current() *AgentProfile {
	return s.current.Load()
}

// Reload re-reads the profile file. The previous profile stays active on error.
func (s *AgentProfileStore) Reload() error {
	profile, err := LoadAgentProfile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(profile)
	return nil
}

// Watch reloads the profile when its file is written, until ctx is done.
// It returns immediately when the embedded default is in use.
func (s *AgentProfileStore) Watch(ctx context.Context) {
	if s.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(s.path)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", s.path, err)
		return
	}

	// Watch the directory, editors often replace the file instead of writing it
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)
	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", s.path)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(profileReloadDebounce, func() {
				if err := s.Reload(); err != nil {
					log.Printf("❌ Failed to reload agent profile, keeping previous: %v", err)
					return
				}
				log.Printf("✅ Agent profile reloaded from %s", s.path)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
