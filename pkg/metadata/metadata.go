package metadata

import (
	"context"
	"fmt"
	"sync"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/identity"
)

// Store reads and merges identity metadata.
type Store interface {
	// Get returns the metadata of subjectID, empty if none was stored.
	Get(ctx context.Context, subjectID string) (map[string]any, error)
	// Update merges patch into the metadata of subjectID.
	Update(ctx context.Context, subjectID string, patch map[string]any) error
}

// MemoryStore keeps metadata in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]any)}
}

func (s *MemoryStore) Get(_ context.Context, subjectID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.data[subjectID]))
	for k, v := range s.data[subjectID] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, subjectID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[subjectID]
	if !ok {
		current = make(map[string]any, len(patch))
		s.data[subjectID] = current
	}
	for k, v := range patch {
		current[k] = v
	}
	return nil
}

// Tracker records which identities have a profile in the remote store.
type Tracker struct {
	store Store
}

// NewTracker creates a Tracker over store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// Store returns the underlying store.
func (t *Tracker) Store() Store {
	return t.store
}

// MarkProvisioned sets existsRemotely on the metadata of subjectID.
func (t *Tracker) MarkProvisioned(ctx context.Context, subjectID string) error {
	patch := map[string]any{identity.ExistsRemotelyKey: true}
	if err := t.store.Update(ctx, subjectID, patch); err != nil {
		return fmt.Errorf("failed to mark %s as provisioned: %w", subjectID, err)
	}
	return nil
}

// Provisioned reports whether subjectID has been marked.
func (t *Tracker) Provisioned(ctx context.Context, subjectID string) (bool, error) {
	md, err := t.store.Get(ctx, subjectID)
	if err != nil {
		return false, err
	}
	flag, _ := md[identity.ExistsRemotelyKey].(bool)
	return flag, nil
}
