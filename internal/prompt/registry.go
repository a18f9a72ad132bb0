package prompt

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parslaw/dadgar/internal/config"
	"github.com/parslaw/dadgar/pkg/models"
)

// MinContentLength is the floor for an override body when the routing
// policy does not set min_prompt_length. Shorter updates are almost
// always an admin mistake.
const MinContentLength = 20

// OverrideStore abstracts the persistence of admin prompt overrides.
type OverrideStore interface {
	Get(ctx context.Context, id string) (*models.PromptOverrideData, error)
	All(ctx context.Context) (map[string]*models.PromptOverrideData, error)
	Upsert(ctx context.Context, id, content, model string) error
	Delete(ctx context.Context, id string) error
}

// Registry serves the fixed set of named prompt texts. Defaults are
// compiled in; overrides come from the store and are cached until an
// explicit Reload. Loaded once, read-only between invalidations.
type Registry struct {
	store  OverrideStore
	policy func() *config.Policy

	mu    sync.RWMutex
	cache map[string]models.PromptEntry
}

// NewRegistry creates a registry and loads the current overrides. The
// policy getter is consulted per update so routing.yaml reloads take
// effect without restart; nil means the globally loaded policy.
func NewRegistry(ctx context.Context, store OverrideStore, policy func() *config.Policy) (*Registry, error) {
	if policy == nil {
		policy = config.GetPolicy
	}
	r := &Registry{store: store, policy: policy}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the cache: built-in defaults with stored overrides
// layered over them.
func (r *Registry) Reload(ctx context.Context) error {
	cache := defaultEntries()

	if r.store != nil {
		overrides, err := r.store.All(ctx)
		if err != nil {
			return fmt.Errorf("load prompt overrides: %w", err)
		}
		for id, ov := range overrides {
			entry, ok := cache[id]
			if !ok {
				log.Warn().Str("id", id).Msg("Ignoring override for unknown prompt ID")
				continue
			}
			entry.Content = ov.Content
			entry.Model = ov.Model
			entry.Source = models.PromptSourceOverride
			updatedAt := ov.UpdatedAt
			entry.UpdatedAt = &updatedAt
			cache[id] = entry
		}
	}

	r.mu.Lock()
	r.cache = cache
	r.mu.Unlock()
	return nil
}

// Get returns the entry for a prompt ID.
func (r *Registry) Get(id string) (models.PromptEntry, error) {
	r.mu.RLock()
	entry, ok := r.cache[id]
	r.mu.RUnlock()
	if !ok {
		return models.PromptEntry{}, fmt.Errorf("prompt %q: %w", id, models.ErrNotFound)
	}
	return entry, nil
}

// Core returns the platform policy prompt.
func (r *Registry) Core() models.PromptEntry {
	entry, _ := r.Get(models.PromptIDCore)
	return entry
}

// Router returns the classifier prompt.
func (r *Registry) Router() models.PromptEntry {
	entry, _ := r.Get(models.PromptIDRouter)
	return entry
}

// Module returns the prompt for a module. Every valid module has exactly
// one entry.
func (r *Registry) Module(m models.Module) (models.PromptEntry, error) {
	return r.Get(models.ModulePromptID(m))
}

// All returns every entry, sorted by ID for stable listings.
func (r *Registry) All() []models.PromptEntry {
	r.mu.RLock()
	entries := make([]models.PromptEntry, 0, len(r.cache))
	for _, entry := range r.cache {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Update stores an override for an existing prompt ID and refreshes the
// cache. Content shorter than the policy's min_prompt_length is rejected.
func (r *Registry) Update(ctx context.Context, id, content string) error {
	minLen := r.policy().MinPromptLength
	if minLen <= 0 {
		minLen = MinContentLength
	}
	if len(content) < minLen {
		return fmt.Errorf("prompt content shorter than %d characters: %w",
			minLen, models.ErrInvalidInput)
	}
	if _, err := r.Get(id); err != nil {
		return err
	}
	if err := r.store.Upsert(ctx, id, content, ""); err != nil {
		return err
	}
	return r.Reload(ctx)
}

// Reset removes an override, restoring the built-in default.
func (r *Registry) Reset(ctx context.Context, id string) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	return r.Reload(ctx)
}
