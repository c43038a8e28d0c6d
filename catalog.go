package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// CatalogModel is one model available through the gateway, offered to the
// client for role assignment.
type CatalogModel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CatalogCache provides thread-safe TTL caching for the model catalog.
type CatalogCache struct {
	mu          sync.RWMutex
	models      []CatalogModel
	lastUpdated time.Time
	ttl         time.Duration
}

// NewCatalogCache creates a catalog cache with the specified TTL.
func NewCatalogCache(ttl time.Duration) *CatalogCache {
	return &CatalogCache{ttl: ttl}
}

// Get retrieves the catalog from cache if present and not expired.
func (c *CatalogCache) Get() ([]CatalogModel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.models) == 0 {
		return nil, false
	}
	if time.Since(c.lastUpdated) > c.ttl {
		return nil, false
	}

	modelsCopy := make([]CatalogModel, len(c.models))
	copy(modelsCopy, c.models)
	return modelsCopy, true
}

// Set updates the cache with a fresh catalog.
func (c *CatalogCache) Set(models []CatalogModel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models = make([]CatalogModel, len(models))
	copy(c.models, models)
	c.lastUpdated = time.Now()
}

// Clear empties the cache.
func (c *CatalogCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.models = nil
	c.lastUpdated = time.Time{}
}

// GetLastUpdated returns when the cache was last refreshed.
func (c *CatalogCache) GetLastUpdated() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lastUpdated
}

type catalogAPIResponse struct {
	Data []CatalogModel `json:"data"`
}

// FetchModelCatalog fetches the available model list from OpenRouter.
func FetchModelCatalog(ctx context.Context) ([]CatalogModel, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", OpenRouterModelsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+OpenRouterAPIKey)

	client := &http.Client{Timeout: FetchURLTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch model catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("catalog API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResponse catalogAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse catalog response: %w", err)
	}
	return apiResponse.Data, nil
}
