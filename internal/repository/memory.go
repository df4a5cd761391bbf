package repository

import (
	"context"
	"sort"
	"sync"

	"collab-notes-server/internal/domain"
)

// The memory repositories back tests and STORAGE_BACKEND=memory. They hand
// out copies so callers can never mutate stored state in place.

type MemoryNoteRepository struct {
	mu    sync.RWMutex
	store map[string]*domain.Note
}

func NewMemoryNoteRepository() *MemoryNoteRepository {
	return &MemoryNoteRepository{store: make(map[string]*domain.Note)}
}

func (m *MemoryNoteRepository) Create(_ context.Context, note *domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[note.ID]; ok {
		return ErrDuplicate
	}
	c := note.Clone()
	m.store[note.ID] = &c
	return nil
}

func (m *MemoryNoteRepository) FindByID(_ context.Context, id string) (*domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := n.Clone()
	return &c, nil
}

func (m *MemoryNoteRepository) List(_ context.Context) ([]*domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Note, 0, len(m.store))
	for _, n := range m.store {
		c := n.Clone()
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryNoteRepository) Update(_ context.Context, note *domain.Note, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.store[note.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}
	c := note.Clone()
	m.store[note.ID] = &c
	return nil
}

func (m *MemoryNoteRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[id]; !ok {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

type MemoryNoteVersionRepository struct {
	mu    sync.RWMutex
	store map[string]*domain.NoteVersion
}

func NewMemoryNoteVersionRepository() *MemoryNoteVersionRepository {
	return &MemoryNoteVersionRepository{store: make(map[string]*domain.NoteVersion)}
}

func copyVersion(v *domain.NoteVersion) *domain.NoteVersion {
	c := *v
	c.Data = v.Data.Clone()
	return &c
}

func (m *MemoryNoteVersionRepository) Create(_ context.Context, version *domain.NoteVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[version.ID]; ok {
		return ErrDuplicate
	}
	m.store[version.ID] = copyVersion(version)
	return nil
}

func (m *MemoryNoteVersionRepository) FindByID(_ context.Context, id string) (*domain.NoteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyVersion(v), nil
}

func (m *MemoryNoteVersionRepository) FindByIDs(_ context.Context, ids []string) ([]*domain.NoteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.NoteVersion, 0, len(ids))
	for _, id := range ids {
		if v, ok := m.store[id]; ok {
			out = append(out, copyVersion(v))
		}
	}
	return out, nil
}

func (m *MemoryNoteVersionRepository) ListByNote(_ context.Context, noteID string) ([]*domain.NoteVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.NoteVersion{}
	for _, v := range m.store {
		if v.NoteID == noteID {
			out = append(out, copyVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

type MemoryUserRepository struct {
	mu         sync.RWMutex
	store      map[string]*domain.User
	byUsername map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		store:      make(map[string]*domain.User),
		byUsername: make(map[string]string),
	}
}

func (m *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUsername[user.Username]; ok {
		return ErrDuplicate
	}
	if _, ok := m.store[user.ID]; ok {
		return ErrDuplicate
	}
	c := *user
	m.store[user.ID] = &c
	m.byUsername[user.Username] = user.ID
	return nil
}

func (m *MemoryUserRepository) FindByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *MemoryUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	id, ok := m.byUsername[username]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.FindByID(ctx, id)
}

func (m *MemoryUserRepository) UsernameExists(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byUsername[username]
	return ok, nil
}
