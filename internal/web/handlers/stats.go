package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
)

const (
	statsCacheTTL      = 30 * time.Second
	mirrorCountTimeout = 5 * time.Second
)

// mirrorCache holds mirror counts with expiry; they cost a database round trip.
type mirrorCache struct {
	mu        sync.RWMutex
	data      map[string]int
	expiresAt time.Time
}

func (c *mirrorCache) get() (map[string]int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data == nil || time.Now().After(c.expiresAt) {
		return nil, false
	}
	return c.data, true
}

func (c *mirrorCache) set(data map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = data
	c.expiresAt = time.Now().Add(statsCacheTTL)
}

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	store   *database.Store
	mirrors map[string]database.Mirror
	cache   mirrorCache
	log     *slog.Logger
}

// NewStatsHandler creates a new stats handler. mirrors may be nil.
func NewStatsHandler(store *database.Store, mirrors map[string]database.Mirror, logger *slog.Logger) *StatsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsHandler{
		store:   store,
		mirrors: mirrors,
		log:     logger.With("module", "web"),
	}
}

// StatsResponse represents the index statistics response
type StatsResponse struct {
	database.StoreStats
	Mirrors map[string]int `json:"mirrors,omitempty"`
}

// Get returns index statistics
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, StatsResponse{
		StoreStats: h.store.Stats(),
		Mirrors:    h.mirrorCounts(r.Context()),
	})
}

// mirrorCounts returns the entry count of each mirror; -1 marks an unreachable one.
func (h *StatsHandler) mirrorCounts(ctx context.Context) map[string]int {
	if len(h.mirrors) == 0 {
		return nil
	}
	if cached, ok := h.cache.get(); ok {
		return cached
	}

	ctx, cancel := context.WithTimeout(ctx, mirrorCountTimeout)
	defer cancel()

	counts := make(map[string]int, len(h.mirrors))
	for name, m := range h.mirrors {
		n, err := m.Count(ctx)
		if err != nil {
			h.log.Warn("mirror count failed", "func", "mirrorCounts", "mirror", name, "error", err)
			n = -1
		}
		counts[name] = n
	}
	h.cache.set(counts)
	return counts
}
