// ABOUTME: In-memory principal store for unit tests and single-process setups
// ABOUTME: One mutex serializes mutations, the fallback discipline for stores without CAS

package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements PrincipalStore with an in-process map. All
// mutations run under one mutex, which is the documented mutual-exclusion
// fallback for stores lacking an atomic compare-and-swap.
type MemoryStore struct {
	mu         sync.Mutex
	byID       map[string]*Principal
	idsByEmail map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Principal),
		idsByEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := FoldEmail(p.Email)
	if _, exists := s.idsByEmail[email]; exists {
		return ErrDuplicateEmail
	}

	cp := *p
	cp.Email = email
	s.byID[cp.ID] = &cp
	s.idsByEmail[email] = cp.ID
	return nil
}

func (s *MemoryStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.idsByEmail[FoldEmail(email)]
	if !ok {
		return nil, ErrPrincipalNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *MemoryStore) SetRenewalRef(ctx context.Context, id string, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.RenewalRef = &ref
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) CompareAndSetRenewalRef(ctx context.Context, id string, expectedOld string, newRef string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return false, ErrPrincipalNotFound
	}
	if p.RenewalRef == nil || *p.RenewalRef != expectedOld {
		return false, nil
	}
	p.RenewalRef = &newRef
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ClearRenewalRef(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.RenewalRef = nil
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	p.PasswordHash = hash
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ PrincipalStore = (*MemoryStore)(nil)
