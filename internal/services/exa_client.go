package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
)

// ExaClient calls Exa's search endpoint with page contents included
type ExaClient struct {
	apiKey     string
	apiURL     string
	numResults int
	httpClient *http.Client
	metrics    *Metrics
}

// NewExaClient creates an Exa client
func NewExaClient(apiKey, apiURL string, numResults int, metrics *Metrics) *ExaClient {
	return &ExaClient{
		apiKey:     apiKey,
		apiURL:     apiURL,
		numResults: numResults,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		metrics:    metrics,
	}
}

type exaRequest struct {
	Query      string      `json:"query"`
	NumResults int         `json:"numResults,omitempty"`
	Type       string      `json:"type"`
	Contents   exaContents `json:"contents"`
}

type exaContents struct {
	Text bool `json:"text"`
}

type exaResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Text    string `json:"text"`
		Image   string `json:"image"`
		Favicon string `json:"favicon"`
	} `json:"results"`
}

// Search runs one search-and-contents request
func (c *ExaClient) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	results, err := c.search(ctx, query)
	c.metrics.RecordDispatch("exa", err)
	if err != nil {
		return nil, err
	}
	log.Printf("✅ [SEARCH] Exa returned %d results for '%s'", len(results), query)
	return results, nil
}

func (c *ExaClient) search(ctx context.Context, query string) ([]models.SearchResult, error) {
	if c.apiKey == "" {
		return nil, NewUpstreamError("Search provider key is not configured", http.StatusInternalServerError, "", errNotConfigured)
	}

	payload, err := json.Marshal(exaRequest{
		Query:      query,
		NumResults: c.numResults,
		Type:       "auto",
		Contents:   exaContents{Text: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewUpstreamError("Search request failed", http.StatusBadGateway, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*1024*1024))
	if err != nil {
		return nil, NewUpstreamError("Failed to read search response", http.StatusBadGateway, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewUpstreamError("Search failed", resp.StatusCode, string(body), nil)
	}

	var parsed exaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewUpstreamError("Failed to parse search results", http.StatusBadGateway, string(body), err)
	}

	results := make([]models.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		results = append(results, models.SearchResult{
			URL:     r.URL,
			Title:   r.Title,
			Text:    r.Text,
			Image:   r.Image,
			Favicon: r.Favicon,
		})
	}
	return results, nil
}
