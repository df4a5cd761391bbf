package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collab-notes-server/internal/broadcast"
	"collab-notes-server/internal/domain"
	"collab-notes-server/internal/repository"
	"collab-notes-server/pkg/metrics"

	"github.com/google/uuid"
)

// NoteService applies note mutations, records version history and fans
// out the resulting events. Updates and removals of the same note are
// serialised; the repository compare-and-swap catches anything that
// escapes the lock.
type NoteService struct {
	repo        repository.NoteRepository
	versionRepo repository.NoteVersionRepository
	broadcaster broadcast.Broadcaster
	locks       *keyedMutex
	now         func() time.Time
}

func NewNoteService(
	repo repository.NoteRepository,
	versionRepo repository.NoteVersionRepository,
	broadcaster broadcast.Broadcaster,
) *NoteService {
	if broadcaster == nil {
		broadcaster = broadcast.Nop{}
	}
	return &NoteService{
		repo:        repo,
		versionRepo: versionRepo,
		broadcaster: broadcaster,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

func (s *NoteService) Create(ctx context.Context, author domain.Identity, req *domain.CreateNoteRequest) (*domain.NoteResponse, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validateStruct(req); err != nil {
		recordMutation("create", err)
		return nil, err
	}

	now := s.now()
	note := &domain.Note{
		ID:            uuid.New().String(),
		Title:         req.Title,
		Content:       req.Content,
		Version:       1,
		Owner:         author,
		Collaborators: []domain.Identity{author},
		CreatedAt:     now,
		UpdatedAt:     now,
		Versions:      []string{},
	}

	if err := s.repo.Create(ctx, note); err != nil {
		err = noteError("create note", note.ID, err)
		recordMutation("create", err)
		return nil, err
	}

	response := domain.NewNoteResponse(note, nil)
	s.broadcaster.BroadcastAll(broadcast.EventNoteCreated, broadcast.Event{
		Text: fmt.Sprintf("A Note with title %q has been created by %s", note.Title, author.Name),
		Data: response,
	})
	recordMutation("create", nil)
	return response, nil
}

func (s *NoteService) Update(ctx context.Context, editor domain.Identity, noteID string, req *domain.UpdateNoteRequest) (*domain.NoteResponse, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := validateStruct(req); err != nil {
		recordMutation("update", err)
		return nil, err
	}

	unlock := s.locks.Lock(noteID)
	defer unlock()

	response, err := s.update(ctx, editor, noteID, req)
	recordMutation("update", err)
	if err != nil {
		return nil, err
	}

	event := broadcast.Event{
		Text: fmt.Sprintf("A Note with title %q has been updated by %s", response.Title, editor.Name),
		Data: response,
	}
	s.broadcaster.BroadcastAll(broadcast.EventNoteUpdated, event)
	s.broadcaster.BroadcastRoom(noteID, broadcast.EventNoteUpdatedInRoom, event)
	return response, nil
}

func (s *NoteService) update(ctx context.Context, editor domain.Identity, noteID string, req *domain.UpdateNoteRequest) (*domain.NoteResponse, error) {
	note, err := s.repo.FindByID(ctx, noteID)
	if err != nil {
		return nil, noteError("load note", noteID, err)
	}
	loaded := note.Version
	now := s.now()

	snapshot := &domain.NoteVersion{
		ID:        uuid.New().String(),
		NoteID:    note.ID,
		Version:   loaded,
		Data:      note.Clone(),
		CreatedAt: now,
	}
	if err := s.versionRepo.Create(ctx, snapshot); err != nil {
		return nil, &PersistenceError{Op: "save note version", Err: err}
	}

	note.Versions = append(note.Versions, snapshot.ID)
	note.Title = req.Title
	note.Content = req.Content
	note.Version = loaded + 1
	note.UpdatedAt = now
	note.AddCollaborator(editor)

	if err := s.repo.Update(ctx, note, loaded); err != nil {
		return nil, noteError("update note", noteID, err)
	}

	versions, err := s.versionRepo.FindByIDs(ctx, note.Versions)
	if err != nil {
		return nil, &PersistenceError{Op: "load note versions", Err: err}
	}
	return domain.NewNoteResponse(note, versions), nil
}

// Remove deletes the note. Its version history is kept.
func (s *NoteService) Remove(ctx context.Context, actor domain.Identity, noteID string) error {
	unlock := s.locks.Lock(noteID)
	defer unlock()

	note, err := s.repo.FindByID(ctx, noteID)
	if err != nil {
		err = noteError("load note", noteID, err)
		recordMutation("delete", err)
		return err
	}
	if err := s.repo.Delete(ctx, noteID); err != nil {
		err = noteError("delete note", noteID, err)
		recordMutation("delete", err)
		return err
	}
	recordMutation("delete", nil)

	s.broadcaster.BroadcastAll(broadcast.EventNoteDeleted, broadcast.Event{
		Text: fmt.Sprintf("A Note with title %q has been deleted by %s", note.Title, actor.Name),
		Data: domain.NoteDeleted{NoteID: note.ID, Title: note.Title},
	})
	return nil
}

func (s *NoteService) List(ctx context.Context) ([]*domain.NoteResponse, error) {
	notes, err := s.repo.List(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list notes", Err: err}
	}

	responses := make([]*domain.NoteResponse, 0, len(notes))
	for _, n := range notes {
		versions, err := s.versionRepo.FindByIDs(ctx, n.Versions)
		if err != nil {
			return nil, &PersistenceError{Op: "load note versions", Err: err}
		}
		responses = append(responses, domain.NewNoteResponse(n, versions))
	}
	return responses, nil
}

func (s *NoteService) Get(ctx context.Context, noteID string) (*domain.NoteResponse, error) {
	note, err := s.repo.FindByID(ctx, noteID)
	if err != nil {
		return nil, noteError("load note", noteID, err)
	}
	versions, err := s.versionRepo.FindByIDs(ctx, note.Versions)
	if err != nil {
		return nil, &PersistenceError{Op: "load note versions", Err: err}
	}
	return domain.NewNoteResponse(note, versions), nil
}

// History lists the snapshots taken for noteID, oldest first. It keeps
// working after the note itself was removed.
func (s *NoteService) History(ctx context.Context, noteID string) ([]*domain.NoteVersion, error) {
	versions, err := s.versionRepo.ListByNote(ctx, noteID)
	if err != nil {
		return nil, &PersistenceError{Op: "list note versions", Err: err}
	}
	if versions == nil {
		versions = []*domain.NoteVersion{}
	}
	return versions, nil
}

func (s *NoteService) GetVersion(ctx context.Context, versionID string) (*domain.NoteVersion, error) {
	v, err := s.versionRepo.FindByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Resource: "note version", ID: versionID}
		}
		return nil, &PersistenceError{Op: "load note version", Err: err}
	}
	return v, nil
}

func noteError(op, noteID string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return &NotFoundError{Resource: "note", ID: noteID}
	case errors.Is(err, repository.ErrVersionConflict):
		return &ConflictError{Reason: fmt.Sprintf("note %s was modified concurrently", noteID)}
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}

func recordMutation(op string, err error) {
	outcome := "ok"
	var (
		verr *ValidationError
		nerr *NotFoundError
		cerr *ConflictError
	)
	switch {
	case err == nil:
	case errors.As(err, &verr):
		outcome = "invalid"
	case errors.As(err, &nerr):
		outcome = "not_found"
	case errors.As(err, &cerr):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	metrics.NoteMutations.WithLabelValues(op, outcome).Inc()
}
