package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

const storeProbeTimeout = 5 * time.Second

// ProbeStatus is the outcome of the latest store probe
type ProbeStatus struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// StoreProbe pings the document store and publishes the result as the store_up gauge
type StoreProbe struct {
	store   database.DocumentStore
	metrics *services.Metrics

	mu   sync.RWMutex
	last ProbeStatus
}

// NewStoreProbe creates the probe job
func NewStoreProbe(store database.DocumentStore, metrics *services.Metrics) *StoreProbe {
	return &StoreProbe{store: store, metrics: metrics}
}

// Run pings the store once
func (p *StoreProbe) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, storeProbeTimeout)
	defer cancel()

	err := p.store.Ping(ctx)
	status := ProbeStatus{Healthy: err == nil, CheckedAt: time.Now().UTC()}
	if err != nil {
		status.Error = err.Error()
	}

	p.mu.Lock()
	wasHealthy := p.last.Healthy || p.last.CheckedAt.IsZero()
	p.last = status
	p.mu.Unlock()

	p.metrics.SetStoreUp(status.Healthy)

	if err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	if !wasHealthy {
		log.Println("✅ [STORE] Document store is reachable again")
	}
	return nil
}

// Status returns the latest probe result; zero until the first run
func (p *StoreProbe) Status() ProbeStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}
