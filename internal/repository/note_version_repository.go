package repository

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"collab-notes-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// NoteVersionRepository is append-only: versions are never updated or
// deleted, including when their note is deleted.
type NoteVersionRepository interface {
	Create(ctx context.Context, version *domain.NoteVersion) error
	FindByID(ctx context.Context, id string) (*domain.NoteVersion, error)
	// FindByIDs returns versions in the order of ids, skipping missing ones.
	FindByIDs(ctx context.Context, ids []string) ([]*domain.NoteVersion, error)
	// ListByNote returns all versions of a note, oldest first.
	ListByNote(ctx context.Context, noteID string) ([]*domain.NoteVersion, error)
}

type couchNoteVersion struct {
	DocType string `json:"doc_type"`
	domain.NoteVersion
}

type noteVersionRepository struct {
	client *kivik.Client
	dbName string
}

func NewNoteVersionRepository(client *kivik.Client, dbName string) NoteVersionRepository {
	return &noteVersionRepository{
		client: client,
		dbName: dbName,
	}
}

func versionDocID(id string) string {
	return fmt.Sprintf("version:%s", id)
}

func (r *noteVersionRepository) Create(ctx context.Context, version *domain.NoteVersion) error {
	db := r.client.DB(r.dbName)

	doc := couchNoteVersion{DocType: docTypeNoteVersion, NoteVersion: *version}
	if _, err := db.Put(ctx, versionDocID(version.ID), doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to save version: %w", err)
	}

	return nil
}

func (r *noteVersionRepository) FindByID(ctx context.Context, id string) (*domain.NoteVersion, error) {
	db := r.client.DB(r.dbName)

	var doc couchNoteVersion
	if err := db.Get(ctx, versionDocID(id)).ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find version: %w", err)
	}

	return &doc.NoteVersion, nil
}

func (r *noteVersionRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.NoteVersion, error) {
	versions := make([]*domain.NoteVersion, 0, len(ids))
	for _, id := range ids {
		v, err := r.FindByID(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (r *noteVersionRepository) ListByNote(ctx context.Context, noteID string) ([]*domain.NoteVersion, error) {
	db := r.client.DB(r.dbName)

	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": docTypeNoteVersion,
			"note_id":  noteID,
		},
		"limit": findLimit,
	}

	rows := db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := []*domain.NoteVersion{}
	for rows.Next() {
		var doc couchNoteVersion
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		v := doc.NoteVersion
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})

	return versions, nil
}
