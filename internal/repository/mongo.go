package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"collab-notes-server/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	notesCollection    = "notes"
	versionsCollection = "note_versions"
	usersCollection    = "users"
)

// ConnectMongo opens a connection and returns the client. Caller should call client.Disconnect(ctx).
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

func ensureUniqueIndex(ctx context.Context, col *mongo.Collection, field string) error {
	idx := mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}, Options: options.Index().SetUnique(true)}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return fmt.Errorf("create index %s.%s: %w", col.Name(), field, err)
	}
	return nil
}

type mongoNoteRepository struct {
	col *mongo.Collection
}

func NewMongoNoteRepository(ctx context.Context, db *mongo.Database) (NoteRepository, error) {
	col := db.Collection(notesCollection)
	if err := ensureUniqueIndex(ctx, col, "id"); err != nil {
		return nil, err
	}
	return &mongoNoteRepository{col: col}, nil
}

func (m *mongoNoteRepository) Create(ctx context.Context, note *domain.Note) error {
	if _, err := m.col.InsertOne(ctx, note); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

func (m *mongoNoteRepository) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	var n domain.Note
	if err := m.col.FindOne(ctx, bson.M{"id": id}).Decode(&n); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find note: %w", err)
	}
	return &n, nil
}

func (m *mongoNoteRepository) List(ctx context.Context) ([]*domain.Note, error) {
	cur, err := m.col.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer cur.Close(ctx)

	out := []*domain.Note{}
	for cur.Next(ctx) {
		var n domain.Note
		if err := cur.Decode(&n); err != nil {
			return nil, fmt.Errorf("failed to decode note: %w", err)
		}
		out = append(out, &n)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return out, nil
}

func (m *mongoNoteRepository) Update(ctx context.Context, note *domain.Note, expectedVersion int64) error {
	res, err := m.col.ReplaceOne(ctx, bson.M{"id": note.ID, "version": expectedVersion}, note)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := m.col.CountDocuments(ctx, bson.M{"id": note.ID})
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (m *mongoNoteRepository) Delete(ctx context.Context, id string) error {
	res, err := m.col.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

type mongoNoteVersionRepository struct {
	col *mongo.Collection
}

func NewMongoNoteVersionRepository(ctx context.Context, db *mongo.Database) (NoteVersionRepository, error) {
	col := db.Collection(versionsCollection)
	if err := ensureUniqueIndex(ctx, col, "id"); err != nil {
		return nil, err
	}
	idx := mongo.IndexModel{Keys: bson.D{{Key: "note_id", Value: 1}, {Key: "version", Value: 1}}}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("create index note_versions.note_id: %w", err)
	}
	return &mongoNoteVersionRepository{col: col}, nil
}

func (m *mongoNoteVersionRepository) Create(ctx context.Context, version *domain.NoteVersion) error {
	if _, err := m.col.InsertOne(ctx, version); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to save version: %w", err)
	}
	return nil
}

func (m *mongoNoteVersionRepository) FindByID(ctx context.Context, id string) (*domain.NoteVersion, error) {
	var v domain.NoteVersion
	if err := m.col.FindOne(ctx, bson.M{"id": id}).Decode(&v); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find version: %w", err)
	}
	return &v, nil
}

func (m *mongoNoteVersionRepository) FindByIDs(ctx context.Context, ids []string) ([]*domain.NoteVersion, error) {
	if len(ids) == 0 {
		return []*domain.NoteVersion{}, nil
	}

	found, err := m.find(ctx, bson.M{"id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*domain.NoteVersion, len(found))
	for _, v := range found {
		byID[v.ID] = v
	}
	out := make([]*domain.NoteVersion, 0, len(ids))
	for _, id := range ids {
		if v, ok := byID[id]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *mongoNoteVersionRepository) ListByNote(ctx context.Context, noteID string) ([]*domain.NoteVersion, error) {
	return m.find(ctx, bson.M{"note_id": noteID}, options.Find().SetSort(bson.D{{Key: "version", Value: 1}}))
}

func (m *mongoNoteVersionRepository) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]*domain.NoteVersion, error) {
	cur, err := m.col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	defer cur.Close(ctx)

	out := []*domain.NoteVersion{}
	for cur.Next(ctx) {
		var v domain.NoteVersion
		if err := cur.Decode(&v); err != nil {
			return nil, fmt.Errorf("failed to decode version: %w", err)
		}
		out = append(out, &v)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}
	return out, nil
}

type mongoUserRepository struct {
	col *mongo.Collection
}

func NewMongoUserRepository(ctx context.Context, db *mongo.Database) (UserRepository, error) {
	col := db.Collection(usersCollection)
	if err := ensureUniqueIndex(ctx, col, "id"); err != nil {
		return nil, err
	}
	if err := ensureUniqueIndex(ctx, col, "username"); err != nil {
		return nil, err
	}
	return &mongoUserRepository{col: col}, nil
}

func (m *mongoUserRepository) Create(ctx context.Context, user *domain.User) error {
	if _, err := m.col.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (m *mongoUserRepository) findOne(ctx context.Context, filter bson.M) (*domain.User, error) {
	var u domain.User
	if err := m.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}

func (m *mongoUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return m.findOne(ctx, bson.M{"id": id})
}

func (m *mongoUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return m.findOne(ctx, bson.M{"username": username})
}

func (m *mongoUserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	n, err := m.col.CountDocuments(ctx, bson.M{"username": username})
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return n > 0, nil
}
