package repository

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"collab-notes-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const (
	docTypeNote        = "note"
	docTypeNoteVersion = "note_version"
	docTypeUser        = "user"
	docTypeUsername    = "username"

	// Mango queries return 25 rows unless told otherwise.
	findLimit = 10000
)

type NoteRepository interface {
	Create(ctx context.Context, note *domain.Note) error
	FindByID(ctx context.Context, id string) (*domain.Note, error)
	List(ctx context.Context) ([]*domain.Note, error)
	// Update replaces the note only if the stored version still equals
	// expectedVersion.
	Update(ctx context.Context, note *domain.Note, expectedVersion int64) error
	Delete(ctx context.Context, id string) error
}

type couchNote struct {
	Rev     string `json:"_rev,omitempty"`
	DocType string `json:"doc_type"`
	domain.Note
}

type noteRepository struct {
	client *kivik.Client
	dbName string
}

func NewNoteRepository(client *kivik.Client, dbName string) NoteRepository {
	return &noteRepository{
		client: client,
		dbName: dbName,
	}
}

func noteDocID(id string) string {
	return fmt.Sprintf("note:%s", id)
}

func (r *noteRepository) Create(ctx context.Context, note *domain.Note) error {
	db := r.client.DB(r.dbName)

	doc := couchNote{DocType: docTypeNote, Note: *note}
	_, err := db.Put(ctx, noteDocID(note.ID), doc)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create note: %w", err)
	}

	return nil
}

func (r *noteRepository) get(ctx context.Context, id string) (*couchNote, error) {
	db := r.client.DB(r.dbName)

	var doc couchNote
	if err := db.Get(ctx, noteDocID(id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find note: %w", err)
	}

	return &doc, nil
}

func (r *noteRepository) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	doc, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &doc.Note, nil
}

func (r *noteRepository) List(ctx context.Context) ([]*domain.Note, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": docTypeNote,
		},
		"limit": findLimit,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := []*domain.Note{}
	for rows.Next() {
		var doc couchNote
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		note := doc.Note
		notes = append(notes, &note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	sort.Slice(notes, func(i, j int) bool {
		return notes[i].CreatedAt.Before(notes[j].CreatedAt)
	})

	return notes, nil
}

func (r *noteRepository) Update(ctx context.Context, note *domain.Note, expectedVersion int64) error {
	existing, err := r.get(ctx, note.ID)
	if err != nil {
		return err
	}

	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}

	// The stored _rev makes CouchDB reject the write if another writer got
	// in between the read above and this Put.
	doc := couchNote{Rev: existing.Rev, DocType: docTypeNote, Note: *note}
	db := r.client.DB(r.dbName)
	if _, err := db.Put(ctx, noteDocID(note.ID), doc); err != nil {
		switch kivik.HTTPStatus(err) {
		case http.StatusConflict:
			return ErrVersionConflict
		case http.StatusNotFound:
			return ErrNotFound
		}
		return fmt.Errorf("failed to update note: %w", err)
	}

	return nil
}

func (r *noteRepository) Delete(ctx context.Context, id string) error {
	db := r.client.DB(r.dbName)
	docID := noteDocID(id)

	rev, err := db.GetRev(ctx, docID)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("failed to fetch note for delete: %w", err)
	}

	if _, err := db.Delete(ctx, docID, rev); err != nil {
		switch kivik.HTTPStatus(err) {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict:
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to delete note: %w", err)
	}

	return nil
}
