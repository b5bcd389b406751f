package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/pieceserver/pieceserver/internal/broker"
	"github.com/pieceserver/pieceserver/internal/config"
	"github.com/pieceserver/pieceserver/internal/metrics"
	"github.com/pieceserver/pieceserver/internal/resource"
)

// Registry maps a document path to the single Hub that owns it on
// this instance, matching spec.md §2's "maintains one Text per path."
type Registry struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Registry
	broker  *broker.Broker
	guard   *resource.Guard

	mu   sync.Mutex
	hubs map[string]*Hub
}

// NewRegistry returns an empty Registry.
func NewRegistry(cfg *config.Config, logger zerolog.Logger, reg *metrics.Registry, brk *broker.Broker, guard *resource.Guard) *Registry {
	return &Registry{cfg: cfg, logger: logger, metrics: reg, broker: brk, guard: guard, hubs: make(map[string]*Hub)}
}

// GetOrOpen returns the existing Hub for path, or opens a new one.
func (r *Registry) GetOrOpen(path string) (*Hub, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.hubs[path]; ok {
		return h, nil
	}
	h, err := Open(path, r.cfg.DocsRoot, r.logger, r.metrics, r.broker, r.guard)
	if err != nil {
		return nil, err
	}
	r.hubs[path] = h
	return h, nil
}

// CloseIdle drops a Hub once its last connection has left, so a
// later Join for the same path re-opens cleanly (and can re-request
// a snapshot handoff rather than serving a stale in-memory copy).
func (r *Registry) CloseIdle(h *Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.mu.Lock()
	empty := len(h.conns) == 0
	h.mu.Unlock()
	if !empty {
		return
	}
	if cur, ok := r.hubs[h.path]; ok && cur == h {
		delete(r.hubs, h.path)
		h.Close()
	}
}
