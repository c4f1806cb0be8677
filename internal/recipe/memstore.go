package recipe

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory [Store], used in tests and when no database is
// configured but recipes are imported at startup.
type MemStore struct {
	mu      sync.RWMutex
	recipes map[string]Recipe
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{recipes: make(map[string]Recipe)}
}

// Get returns the recipe with id key or the latest one titled key.
func (m *MemStore) Get(_ context.Context, key string) (*Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.recipes[key]; ok {
		return &r, nil
	}
	var found *Recipe
	for _, r := range m.recipes {
		if !strings.EqualFold(r.Title, key) {
			continue
		}
		if found == nil || r.UpdatedAt.After(found.UpdatedAt) {
			found = &r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return found, nil
}

// List returns all recipes ordered by title without their bodies.
func (m *MemStore) List(context.Context) ([]Recipe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Recipe, 0, len(m.recipes))
	for _, r := range m.recipes {
		r.Body = ""
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Recipe) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Upsert stores a copy of r.
func (m *MemStore) Upsert(_ context.Context, r *Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recipes[r.ID] = *r
	return nil
}

// Delete removes a recipe.
func (m *MemStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recipes, id)
	return nil
}
