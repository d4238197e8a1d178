package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"deposit-reconciler-go/internal/models"
)

// Compile-time check: *MemoryState must satisfy StateStore.
var _ StateStore = (*MemoryState)(nil)

// MemoryState is a process-local StateStore. Everything it holds is lost on
// restart, so it is meant for tests and throwaway runs.
type MemoryState struct {
	mutex     sync.RWMutex
	cursors   map[string]string
	processed map[string]models.ProcessedReference
	pending   map[string]models.PendingMatch
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		cursors:   make(map[string]string),
		processed: make(map[string]models.ProcessedReference),
		pending:   make(map[string]models.PendingMatch),
	}
}

func (m *MemoryState) GetCursors(_ context.Context) (map[string]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]string, len(m.cursors))
	for k, v := range m.cursors {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryState) SetCursors(_ context.Context, cursors map[string]string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for k, v := range cursors {
		m.cursors[k] = v
	}
	return nil
}

func (m *MemoryState) GetProcessed(_ context.Context, reference string) (*models.ProcessedReference, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	ref, ok := m.processed[reference]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

func (m *MemoryState) RecordProcessed(_ context.Context, ref models.ProcessedReference) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now().UTC()
	existing, ok := m.processed[ref.Reference]
	if ok {
		if existing.Outcome != models.OutcomeUnmatched || ref.Outcome != models.OutcomeCredited {
			return false, nil
		}
		ref.CreatedAt = existing.CreatedAt
	} else {
		ref.CreatedAt = now
	}
	ref.UpdatedAt = now
	m.processed[ref.Reference] = ref
	return true, nil
}

func (m *MemoryState) SavePendingMatch(_ context.Context, match models.PendingMatch) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now().UTC()
	if existing, ok := m.pending[match.Reference]; ok {
		match.CreatedAt = existing.CreatedAt
	} else {
		match.CreatedAt = now
	}
	match.UpdatedAt = now
	m.pending[match.Reference] = match
	return nil
}

func (m *MemoryState) GetPendingMatch(_ context.Context, reference string) (*models.PendingMatch, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	match, ok := m.pending[reference]
	if !ok {
		return nil, nil
	}
	return &match, nil
}

func (m *MemoryState) ListPendingMatches(_ context.Context) ([]models.PendingMatch, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]models.PendingMatch, 0, len(m.pending))
	for _, match := range m.pending {
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryState) DeletePendingMatch(_ context.Context, reference string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.pending, reference)
	return nil
}
