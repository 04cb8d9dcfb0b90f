package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
)

// pageEnrichConcurrency bounds how many result pages are extracted at once
const pageEnrichConcurrency = 4

// pageExtractor is the part of PageExtractor used to enrich search hits
type pageExtractor interface {
	Extract(ctx context.Context, pageURL string) (*PageDetails, error)
}

// SearXNGClient searches a SearXNG instance and fills in article text from the result pages
type SearXNGClient struct {
	baseURL    string
	numResults int
	httpClient *http.Client
	extractor  pageExtractor
	metrics    *Metrics
}

// NewSearXNGClient creates a client. extractor may be nil to keep SearXNG snippets as text.
func NewSearXNGClient(baseURL string, numResults int, extractor pageExtractor, metrics *Metrics) *SearXNGClient {
	return &SearXNGClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		numResults: numResults,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		extractor:  extractor,
		metrics:    metrics,
	}
}

type searxngResponse struct {
	Results []struct {
		Title     string `json:"title"`
		URL       string `json:"url"`
		Content   string `json:"content"`
		Thumbnail string `json:"thumbnail"`
		ImgSrc    string `json:"img_src"`
	} `json:"results"`
}

// Search runs one SearXNG query
func (c *SearXNGClient) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	results, err := c.search(ctx, query)
	c.metrics.RecordDispatch("searxng", err)
	if err != nil {
		return nil, err
	}

	if c.extractor != nil {
		c.enrich(ctx, results)
	}

	log.Printf("✅ [SEARCH] SearXNG returned %d results for '%s'", len(results), query)
	return results, nil
}

func (c *SearXNGClient) search(ctx context.Context, query string) ([]models.SearchResult, error) {
	searchURL := fmt.Sprintf("%s/search?q=%s&format=json&safesearch=1", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", pageUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewUpstreamError("Search request failed", http.StatusBadGateway, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, NewUpstreamError("Failed to read search response", http.StatusBadGateway, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, NewUpstreamError("Search failed", resp.StatusCode, string(body), nil)
	}

	var parsed searxngResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, NewUpstreamError("Failed to parse search results", http.StatusBadGateway, string(body), err)
	}

	results := make([]models.SearchResult, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if c.numResults > 0 && len(results) >= c.numResults {
			break
		}
		image := r.ImgSrc
		if image == "" {
			image = r.Thumbnail
		}
		results = append(results, models.SearchResult{
			URL:   r.URL,
			Title: r.Title,
			Text:  r.Content,
			Image: image,
		})
	}
	return results, nil
}

// enrich replaces snippets with extracted page text. Pages that fail keep their snippet.
func (c *SearXNGClient) enrich(ctx context.Context, results []models.SearchResult) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(pageEnrichConcurrency)

	for i := range results {
		g.Go(func() error {
			details, err := c.extractor.Extract(gctx, results[i].URL)
			if err != nil {
				logExtractFailure(results[i].URL, err)
				return nil
			}
			results[i].Text = details.Text
			if results[i].Title == "" {
				results[i].Title = details.Title
			}
			if results[i].Image == "" {
				results[i].Image = details.Image
			}
			results[i].Favicon = details.Favicon
			return nil
		})
	}
	g.Wait()
}
