package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"collab-notes-server/internal/broadcast"
	"collab-notes-server/internal/domain"
	"collab-notes-server/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	room    string
	kind    broadcast.EventKind
	payload interface{}
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (b *recordingBroadcaster) BroadcastAll(kind broadcast.EventKind, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{kind: kind, payload: payload})
}

func (b *recordingBroadcaster) BroadcastRoom(room string, kind broadcast.EventKind, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, sentEvent{room: room, kind: kind, payload: payload})
}

func (b *recordingBroadcaster) kinds() []broadcast.EventKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broadcast.EventKind, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.kind)
	}
	return out
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

var (
	alice = domain.Identity{ID: "u-alice", Name: "Alice", Username: "alice"}
	bob   = domain.Identity{ID: "u-bob", Name: "Bob", Username: "bob"}
)

type noteFixture struct {
	svc      *NoteService
	notes    *repository.MemoryNoteRepository
	versions *repository.MemoryNoteVersionRepository
	events   *recordingBroadcaster
}

func newNoteFixture() *noteFixture {
	f := &noteFixture{
		notes:    repository.NewMemoryNoteRepository(),
		versions: repository.NewMemoryNoteVersionRepository(),
		events:   &recordingBroadcaster{},
	}
	f.svc = NewNoteService(f.notes, f.versions, f.events)
	return f
}

func (f *noteFixture) create(t *testing.T, title, content string) *domain.NoteResponse {
	t.Helper()
	n, err := f.svc.Create(context.Background(), alice, &domain.CreateNoteRequest{Title: title, Content: content})
	require.NoError(t, err)
	return n
}

func TestNoteService_Create(t *testing.T) {
	f := newNoteFixture()

	n := f.create(t, "  Plan ", "draft")

	assert.Equal(t, "Plan", n.Title, "title is trimmed")
	assert.Equal(t, "draft", n.Content)
	assert.Equal(t, int64(1), n.Version)
	assert.Equal(t, alice, n.Owner)
	assert.Equal(t, []domain.Identity{alice}, n.Collaborators)
	assert.Empty(t, n.Versions)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, broadcast.EventNoteCreated, ev.kind)
	assert.Empty(t, ev.room)
	assert.Equal(t, `A Note with title "Plan" has been created by Alice`, ev.payload.(broadcast.Event).Text)
}

func TestNoteService_CreateValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   *domain.CreateNoteRequest
		field string
	}{
		{"missing title", &domain.CreateNoteRequest{Content: "draft"}, "title"},
		{"blank title", &domain.CreateNoteRequest{Title: "   ", Content: "draft"}, "title"},
		{"short title", &domain.CreateNoteRequest{Title: "ab", Content: "draft"}, "title"},
		{"long title", &domain.CreateNoteRequest{Title: strings.Repeat("a", 51), Content: "draft"}, "title"},
		{"short content", &domain.CreateNoteRequest{Title: "Plan", Content: "ab"}, "content"},
		{"long content", &domain.CreateNoteRequest{Title: "Plan", Content: strings.Repeat("a", 10001)}, "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNoteFixture()
			_, err := f.svc.Create(context.Background(), alice, tt.req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Empty(t, f.events.events)

			all, err := f.notes.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestNoteService_UpdateRecordsHistory(t *testing.T) {
	f := newNoteFixture()
	created := f.create(t, "Plan", "draft")
	f.events.reset()

	updated, err := f.svc.Update(context.Background(), bob, created.ID, &domain.UpdateNoteRequest{Title: "Plan", Content: "final"})
	require.NoError(t, err)

	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "final", updated.Content)
	assert.Equal(t, []domain.Identity{alice, bob}, updated.Collaborators)
	assert.Equal(t, alice, updated.Owner)

	require.Len(t, updated.Versions, 1)
	snap := updated.Versions[0]
	assert.Equal(t, int64(1), snap.Version)
	assert.Equal(t, created.ID, snap.NoteID)
	assert.Equal(t, "draft", snap.Data.Content)
	assert.Equal(t, []domain.Identity{alice}, snap.Data.Collaborators)

	assert.Equal(t, []broadcast.EventKind{broadcast.EventNoteUpdated, broadcast.EventNoteUpdatedInRoom}, f.events.kinds())
	assert.Equal(t, created.ID, f.events.events[1].room)
	assert.Equal(t, `A Note with title "Plan" has been updated by Bob`, f.events.events[0].payload.(broadcast.Event).Text)

	stored, err := f.notes.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{snap.ID}, stored.Versions)
}

func TestNoteService_UpdateSameEditorKeepsCollaborators(t *testing.T) {
	f := newNoteFixture()
	created := f.create(t, "Plan", "draft")

	updated, err := f.svc.Update(context.Background(), alice, created.ID, &domain.UpdateNoteRequest{Title: "Plan", Content: "again"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Identity{alice}, updated.Collaborators)
}

func TestNoteService_UpdateMissingNote(t *testing.T) {
	f := newNoteFixture()

	_, err := f.svc.Update(context.Background(), bob, "does-not-exist", &domain.UpdateNoteRequest{Title: "Plan", Content: "final"})

	var nerr *NotFoundError
	require.ErrorAs(t, err, &nerr)
	assert.Empty(t, f.events.events)

	history, err := f.svc.History(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestNoteService_UpdateValidation(t *testing.T) {
	f := newNoteFixture()
	created := f.create(t, "Plan", "draft")
	f.events.reset()

	_, err := f.svc.Update(context.Background(), bob, created.ID, &domain.UpdateNoteRequest{Title: "Plan", Content: ""})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.events.events)

	got, err := f.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestNoteService_SequentialUpdates(t *testing.T) {
	f := newNoteFixture()
	created := f.create(t, "Plan", "v01")

	const n = 5
	for i := 0; i < n; i++ {
		req := &domain.UpdateNoteRequest{Title: "Plan", Content: fmt.Sprintf("content %d", i)}
		updated, err := f.svc.Update(context.Background(), bob, created.ID, req)
		require.NoError(t, err)
		assert.Equal(t, int64(i+2), updated.Version)
	}

	got, err := f.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), got.Version)
	assert.Equal(t, fmt.Sprintf("content %d", n-1), got.Content)
	require.Len(t, got.Versions, n)

	for i, v := range got.Versions {
		assert.Equal(t, int64(i+1), v.Version, "versions are ordered oldest first")
		assert.Equal(t, int64(i+1), v.Data.Version)

		prior := "v01"
		if i > 0 {
			prior = fmt.Sprintf("content %d", i-1)
		}
		assert.Equal(t, prior, v.Data.Content, "snapshot %d holds the state before update %d", i, i)
	}
}

func TestNoteService_ConcurrentUpdatesAreSerialised(t *testing.T) {
	f := newNoteFixture()
	created := f.create(t, "Plan", "v01")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &domain.UpdateNoteRequest{Title: "Plan", Content: fmt.Sprintf("content %d", i)}
			_, err := f.svc.Update(context.Background(), bob, created.ID, req)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), got.Version)
	require.Len(t, got.Versions, n)
	assert.Equal(t, 0, f.svc.locks.size())

	// Every write is visible exactly once: either as the prior state of
	// the next update or as the current content.
	assert.Equal(t, "v01", got.Versions[0].Data.Content)
	seen := map[string]int{got.Content: 1}
	for i, v := range got.Versions {
		assert.Equal(t, int64(i+1), v.Data.Version)
		if i > 0 {
			seen[v.Data.Content]++
		}
	}
	require.Len(t, seen, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, 1, seen[fmt.Sprintf("content %d", i)])
	}
}

// staleNoteRepository reports a version that moved under the caller.
type staleNoteRepository struct {
	*repository.MemoryNoteRepository
}

func (s staleNoteRepository) Update(ctx context.Context, note *domain.Note, expectedVersion int64) error {
	return repository.ErrVersionConflict
}

func TestNoteService_UpdateConflict(t *testing.T) {
	f := newNoteFixture()
	created := f.create(t, "Plan", "draft")
	f.events.reset()

	svc := NewNoteService(staleNoteRepository{f.notes}, f.versions, f.events)
	_, err := svc.Update(context.Background(), bob, created.ID, &domain.UpdateNoteRequest{Title: "Plan", Content: "final"})

	var cerr *ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Empty(t, f.events.events)
}

type brokenNoteRepository struct {
	*repository.MemoryNoteRepository
}

func (brokenNoteRepository) Create(context.Context, *domain.Note) error {
	return errors.New("connection refused")
}

func TestNoteService_CreatePersistenceFailure(t *testing.T) {
	f := newNoteFixture()
	svc := NewNoteService(brokenNoteRepository{f.notes}, f.versions, f.events)

	_, err := svc.Create(context.Background(), alice, &domain.CreateNoteRequest{Title: "Plan", Content: "draft"})

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, f.events.events)
}

func TestNoteService_RemoveKeepsHistory(t *testing.T) {
	f := newNoteFixture()
	created := f.create(t, "Plan", "draft")
	updated, err := f.svc.Update(context.Background(), bob, created.ID, &domain.UpdateNoteRequest{Title: "Plan", Content: "final"})
	require.NoError(t, err)
	f.events.reset()

	require.NoError(t, f.svc.Remove(context.Background(), bob, created.ID))

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0]
	assert.Equal(t, broadcast.EventNoteDeleted, ev.kind)
	payload := ev.payload.(broadcast.Event)
	assert.Equal(t, `A Note with title "Plan" has been deleted by Bob`, payload.Text)
	assert.Equal(t, domain.NoteDeleted{NoteID: created.ID, Title: "Plan"}, payload.Data)

	_, err = f.svc.Get(context.Background(), created.ID)
	var nerr *NotFoundError
	require.ErrorAs(t, err, &nerr)

	v, err := f.svc.GetVersion(context.Background(), updated.Versions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", v.Data.Content)

	history, err := f.svc.History(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	err = f.svc.Remove(context.Background(), bob, created.ID)
	require.ErrorAs(t, err, &nerr)
}

func TestNoteService_ListPopulatesVersions(t *testing.T) {
	f := newNoteFixture()
	first := f.create(t, "First", "one")
	f.create(t, "Second", "two")

	_, err := f.svc.Update(context.Background(), bob, first.ID, &domain.UpdateNoteRequest{Title: "First", Content: "uno"})
	require.NoError(t, err)

	notes, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 2)

	byTitle := map[string]*domain.NoteResponse{}
	for _, n := range notes {
		byTitle[n.Title] = n
	}
	require.Len(t, byTitle["First"].Versions, 1)
	assert.Equal(t, "one", byTitle["First"].Versions[0].Data.Content)
	assert.NotNil(t, byTitle["Second"].Versions)
	assert.Empty(t, byTitle["Second"].Versions)
}

func TestNoteService_GetVersionMissing(t *testing.T) {
	f := newNoteFixture()
	_, err := f.svc.GetVersion(context.Background(), "nope")
	var nerr *NotFoundError
	require.ErrorAs(t, err, &nerr)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock on the same key must block")
	default:
	}

	unlockB()
	unlockA()
	<-acquired
	require.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}
