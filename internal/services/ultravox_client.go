package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

var errNotConfigured = errors.New("not configured")

// CallDispatcher provisions a voice call for a session
type CallDispatcher interface {
	CreateCall(ctx context.Context, sessionID string) (string, error)
}

// profileSource yields the agent profile to create calls with
type profileSource interface {
	Current() *AgentProfile
}

// UltravoxClient creates Ultravox calls whose tools call back into this server
type UltravoxClient struct {
	apiKey        string
	apiURL        string
	publicBaseURL string
	profiles      profileSource
	httpClient    *http.Client
	metrics       *Metrics
}

// NewUltravoxClient creates a call dispatcher
func NewUltravoxClient(apiKey, apiURL, publicBaseURL string, profiles profileSource, metrics *Metrics) *UltravoxClient {
	return &UltravoxClient{
		apiKey:        apiKey,
		apiURL:        apiURL,
		publicBaseURL: publicBaseURL,
		profiles:      profiles,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		metrics:       metrics,
	}
}

type ultravoxCall struct {
	SystemPrompt         string                 `json:"systemPrompt"`
	SelectedTools        []ultravoxSelectedTool `json:"selectedTools"`
	Voice                string                 `json:"voice,omitempty"`
	FirstSpeakerSettings ultravoxFirstSpeaker   `json:"firstSpeakerSettings"`
}

type ultravoxFirstSpeaker struct {
	Agent ultravoxAgentSpeaker `json:"agent"`
}

type ultravoxAgentSpeaker struct {
	Uninterruptible bool   `json:"uninterruptible"`
	Text            string `json:"text"`
}

type ultravoxSelectedTool struct {
	TemporaryTool ultravoxTool `json:"temporaryTool"`
}

type ultravoxTool struct {
	ModelToolName     string           `json:"modelToolName"`
	Description       string           `json:"description"`
	DynamicParameters []ultravoxParam  `json:"dynamicParameters"`
	HTTP              ultravoxToolHTTP `json:"http"`
}

type ultravoxParam struct {
	Name     string         `json:"name"`
	Location string         `json:"location"`
	Schema   ultravoxSchema `json:"schema"`
	Required bool           `json:"required"`
}

type ultravoxSchema struct {
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type"`
	Items       *ultravoxSchema `json:"items,omitempty"`
}

type ultravoxToolHTTP struct {
	BaseURLPattern string `json:"baseUrlPattern"`
	HTTPMethod     string `json:"httpMethod"`
}

// CreateCall provisions a call and returns its join URL
func (c *UltravoxClient) CreateCall(ctx context.Context, sessionID string) (string, error) {
	joinURL, err := c.createCall(ctx, sessionID)
	c.metrics.RecordDispatch("ultravox", err)
	if err != nil {
		log.Printf("❌ [CALL] Failed to create call for session %s: %v", sessionID, err)
		return "", err
	}
	log.Printf("📞 [CALL] Created call for session %s", sessionID)
	return joinURL, nil
}

func (c *UltravoxClient) createCall(ctx context.Context, sessionID string) (string, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	if c.apiKey == "" {
		return "", NewUpstreamError("Error, please try again later", http.StatusInternalServerError, "", errNotConfigured)
	}

	call, err := c.buildCall(sessionID)
	if err != nil {
		return "", NewUpstreamError("Error, please try again later", http.StatusInternalServerError, "", err)
	}
	payload, err := json.Marshal(call)
	if err != nil {
		return "", fmt.Errorf("failed to marshal call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Unsafe-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", NewUpstreamError("Failed to create Ultravox call", http.StatusBadGateway, err.Error(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", NewUpstreamError("Failed to create Ultravox call", http.StatusBadGateway, err.Error(), err)
	}

	var created struct {
		JoinURL string `json:"joinUrl"`
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.Unmarshal(body, &created); err == nil && created.JoinURL != "" {
			return created.JoinURL, nil
		}
	}

	status := resp.StatusCode
	if status < 400 {
		// A 2xx without a join URL is still a failed call
		status = http.StatusBadGateway
	}
	return "", NewUpstreamError("Failed to create Ultravox call", status, string(body), nil)
}

// buildCall renders the call request for a session from the active profile
func (c *UltravoxClient) buildCall(sessionID string) (*ultravoxCall, error) {
	profile := c.profiles.Current()
	if profile == nil {
		return nil, fmt.Errorf("no agent profile loaded")
	}

	prompt, err := profile.RenderPrompt(sessionID)
	if err != nil {
		return nil, err
	}

	tools := make([]ultravoxSelectedTool, 0, len(profile.Tools))
	for _, tool := range profile.Tools {
		params := make([]ultravoxParam, 0, len(tool.Parameters))
		for _, p := range tool.Parameters {
			schema := ultravoxSchema{Description: p.Description, Type: p.Type}
			if p.Items != "" {
				schema.Items = &ultravoxSchema{Type: p.Items}
			}
			params = append(params, ultravoxParam{
				Name:     p.Name,
				Location: "PARAMETER_LOCATION_BODY",
				Schema:   schema,
				Required: p.Required,
			})
		}
		tools = append(tools, ultravoxSelectedTool{TemporaryTool: ultravoxTool{
			ModelToolName:     tool.Name,
			Description:       tool.Description,
			DynamicParameters: params,
			HTTP: ultravoxToolHTTP{
				BaseURLPattern: ToolURL(c.publicBaseURL, sessionID, tool),
				HTTPMethod:     tool.Method,
			},
		}})
	}

	return &ultravoxCall{
		SystemPrompt:  prompt,
		SelectedTools: tools,
		Voice:         profile.Voice,
		FirstSpeakerSettings: ultravoxFirstSpeaker{Agent: ultravoxAgentSpeaker{
			Uninterruptible: profile.FirstSpeaker.Uninterruptible,
			Text:            profile.FirstSpeaker.Text,
		}},
	}, nil
}
