// Package memory provides in-process implementations of the storage ports.
//
// Delegation state is sharded per subject: each subject carries its own lock,
// so issue/revoke/verify for one object never contend with operations on an
// unrelated object. Within a subject, operations are linearizable.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/evanrel/capshare/internal/storage"
	"github.com/evanrel/capshare/pkg/types"
)

// Store implements storage.DelegationStore and storage.ObjectCatalog in
// memory. Suitable for tests and single-process deployments; the sqlite
// backend provides durability with the same semantics.
type Store struct {
	mu       sync.RWMutex
	subjects map[string]*subjectState
	objects  map[string]types.ContentObject
}

// subjectState holds all delegation state for one subject under its own lock.
type subjectState struct {
	mu          sync.Mutex
	delegations map[string]types.Delegation // grantee -> current delegation
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		subjects: make(map[string]*subjectState),
		objects:  make(map[string]types.ContentObject),
	}
}

// subject returns the state shard for a subject, creating it if requested.
// Returns nil when absent and create is false.
func (s *Store) subject(subjectID string, create bool) *subjectState {
	s.mu.RLock()
	st, ok := s.subjects[subjectID]
	s.mu.RUnlock()
	if ok || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if st, ok := s.subjects[subjectID]; ok {
		return st
	}

	st = &subjectState{delegations: make(map[string]types.Delegation)}
	s.subjects[subjectID] = st
	return st
}

// Put inserts or replaces the delegation for its (subjectID, grantee) key.
func (s *Store) Put(ctx context.Context, d types.Delegation) error {
	st := s.subject(d.SubjectID, true)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.delegations[d.Grantee] = d
	return nil
}

// Get returns the current delegation for the key, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, subjectID, grantee string) (types.Delegation, error) {
	st := s.subject(subjectID, false)
	if st == nil {
		return types.Delegation{}, storage.ErrNotFound
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	d, ok := st.delegations[grantee]
	if !ok {
		return types.Delegation{}, storage.ErrNotFound
	}
	return d, nil
}

// Revoke marks the current delegation revoked. Idempotent; the bool reports
// presence, not whether this call flipped the flag.
func (s *Store) Revoke(ctx context.Context, subjectID, grantee string) (bool, error) {
	st := s.subject(subjectID, false)
	if st == nil {
		return false, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	d, ok := st.delegations[grantee]
	if !ok {
		return false, nil
	}

	d.Revoked = true
	st.delegations[grantee] = d
	return true, nil
}

// ListActive returns non-revoked, unexpired delegations for the subject,
// ordered by IssuedAt ascending.
func (s *Store) ListActive(ctx context.Context, subjectID string, now time.Time) ([]types.Delegation, error) {
	st := s.subject(subjectID, false)
	if st == nil {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var active []types.Delegation
	for _, d := range st.delegations {
		if d.ActiveAt(now) {
			active = append(active, d)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].IssuedAt.Before(active[j].IssuedAt)
	})
	return active, nil
}

// PutObject registers a new object. Returns storage.ErrDuplicate if the ID is
// already registered.
func (s *Store) PutObject(ctx context.Context, obj types.ContentObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[obj.ID]; ok {
		return storage.ErrDuplicate
	}
	s.objects[obj.ID] = obj
	return nil
}

// GetObject returns the object with the given ID, or storage.ErrNotFound.
func (s *Store) GetObject(ctx context.Context, id string) (types.ContentObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[id]
	if !ok {
		return types.ContentObject{}, storage.ErrNotFound
	}
	return obj, nil
}

// ListByOwner returns the identity's objects ordered by UploadedAt ascending.
func (s *Store) ListByOwner(ctx context.Context, owner string) ([]types.ContentObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var objs []types.ContentObject
	for _, obj := range s.objects {
		if obj.Owner == owner {
			objs = append(objs, obj)
		}
	}

	sort.Slice(objs, func(i, j int) bool {
		if objs[i].UploadedAt.Equal(objs[j].UploadedAt) {
			return objs[i].ID < objs[j].ID
		}
		return objs[i].UploadedAt.Before(objs[j].UploadedAt)
	})
	return objs, nil
}
