package services

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marianar97/maggie-web-api-endpoint/internal/logging"
	"github.com/marianar97/maggie-web-api-endpoint/internal/models"
)

// defaultFetchTimeout bounds one search-and-save run
const defaultFetchTimeout = 60 * time.Second

// Searcher looks up reading material for a free-text query
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
}

// resourceSaver is the part of SessionRepository the fetcher writes through
type resourceSaver interface {
	SaveResources(ctx context.Context, sessionID, query string, resources []models.Resource) (models.WriteResult, error)
}

// ResourceFetcher runs resource searches detached from the request that asked for them.
// The outcome of a fetch is only visible through the stored resources slot and the logs.
type ResourceFetcher struct {
	searcher Searcher
	repo     resourceSaver
	metrics  *Metrics
	timeout  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	mu       sync.RWMutex
	draining bool
}

// NewResourceFetcher creates a fetcher. searcher may be nil when no provider is configured.
func NewResourceFetcher(searcher Searcher, repo resourceSaver, metrics *Metrics) *ResourceFetcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &ResourceFetcher{
		searcher: searcher,
		repo:     repo,
		metrics:  metrics,
		timeout:  defaultFetchTimeout,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Schedule validates the request and starts a background fetch. It returns the fetch id
// without waiting for the search.
func (f *ResourceFetcher) Schedule(sessionID, query string) (string, error) {
	// Callers may pass request-scoped strings; the fetch outlives the request
	sessionID = strings.Clone(sessionID)
	query = strings.Clone(query)
	if err := ValidateSessionID(sessionID); err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", NewValidationError("No query provided")
	}
	if f.searcher == nil {
		return "", NewUpstreamError("Resource search is not configured", http.StatusInternalServerError, "", errNotConfigured)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.draining {
		return "", NewUpstreamError("Server is shutting down, please try again", http.StatusServiceUnavailable, "", nil)
	}
	f.wg.Add(1)

	fetchID := uuid.New().String()
	go f.run(fetchID, sessionID, query)

	return fetchID, nil
}

func (f *ResourceFetcher) run(fetchID, sessionID, query string) {
	defer f.wg.Done()

	logger := logging.WithFetch(logging.WithSession(sessionID), fetchID, query)
	f.metrics.FetchStarted()
	start := time.Now()

	ctx, cancel := context.WithTimeout(f.baseCtx, f.timeout)
	defer cancel()

	err := f.fetch(ctx, sessionID, query)
	f.metrics.FetchFinished(err)
	if err != nil {
		logger.Error("resource fetch failed", "error", err, "duration", time.Since(start))
		return
	}
	logger.Info("resource fetch completed", "duration", time.Since(start))
}

func (f *ResourceFetcher) fetch(ctx context.Context, sessionID, query string) error {
	results, err := f.searcher.Search(ctx, query)
	if err != nil {
		return err
	}

	resources := IngestResults(results)
	_, err = f.repo.SaveResources(ctx, sessionID, query, resources)
	return err
}

// IngestResults converts raw search hits into stored resources, dropping untitled hits
func IngestResults(results []models.SearchResult) []models.Resource {
	resources := make([]models.Resource, 0, len(results))
	for _, r := range results {
		if res, ok := r.ToResource(); ok {
			resources = append(resources, res)
		}
	}
	return resources
}

// Wait blocks until every scheduled fetch has finished
func (f *ResourceFetcher) Wait() {
	f.wg.Wait()
}

// Drain stops accepting fetches and waits up to timeout for running ones.
// Fetches still running at the deadline are cancelled. Returns true if all finished.
func (f *ResourceFetcher) Drain(timeout time.Duration) bool {
	f.mu.Lock()
	f.draining = true
	f.mu.Unlock()

	log.Printf("🔄 [RESOURCES] Draining background fetches (timeout: %s)...", timeout)

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		f.cancel()
		log.Println("✅ [RESOURCES] All background fetches completed")
		return true
	case <-timer.C:
		f.cancel()
		log.Println("⚠️ [RESOURCES] Drain timeout reached, remaining fetches were cancelled")
		return false
	}
}

// IsDraining returns true once Drain has been called
func (f *ResourceFetcher) IsDraining() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.draining
}
