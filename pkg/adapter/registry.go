package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/zen-systems/council/pkg/logging"
)

// Registry dispatches "provider/model" ids to adapters. Ids whose provider
// has no direct adapter go to the fallback with the full id intact.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	fallback Adapter
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	logger = logging.OrNop(logger)
	return &Registry{
		adapters: make(map[string]Adapter),
		logger:   logger.With(zap.String("component", "registry")),
	}
}

// Register makes a available under its name as a model prefix.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// SetFallback sets the adapter used for unmatched prefixes.
func (r *Registry) SetFallback(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = a
}

// Resolve returns the adapter for a model id and the id to send to it.
func (r *Registry) Resolve(model string) (Adapter, string, error) {
	if model == "" {
		return nil, "", fmt.Errorf("model id is required")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, rest, ok := strings.Cut(model, "/"); ok {
		if a, found := r.adapters[provider]; found {
			return a, rest, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, model, nil
	}
	return nil, "", fmt.Errorf("no adapter for model %q", model)
}

// Query routes req to the adapter owning req.Model. The returned response
// keeps the caller's model id.
func (r *Registry) Query(ctx context.Context, req Request) (*Response, error) {
	a, id, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("dispatching query",
		zap.String("model", req.Model),
		zap.String("adapter", a.Name()),
	)

	model := req.Model
	req.Model = id
	resp, err := a.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s returned no response for %s", a.Name(), model)
	}
	resp.Model = model
	return resp, nil
}

// QueryFunc exposes Query as the capability the council core consumes.
func (r *Registry) QueryFunc() QueryFunc {
	return r.Query
}

// Infos lists registered adapters sorted by name, fallback included.
func (r *Registry) Infos() []AdapterInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var infos []AdapterInfo
	add := func(a Adapter) {
		if a == nil || seen[a.Name()] {
			return
		}
		seen[a.Name()] = true
		infos = append(infos, AdapterInfo{Name: a.Name(), Models: a.Models(), Ready: true})
	}
	for _, a := range r.adapters {
		add(a)
	}
	add(r.fallback)

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
