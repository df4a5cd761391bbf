package domain

import "time"

const (
	TitleMinLength   = 3
	TitleMaxLength   = 50
	ContentMinLength = 3
	ContentMaxLength = 10000
)

// Note is the stored note document. Owner and Collaborators hold identity
// projections only; Versions lists NoteVersion ids oldest first.
type Note struct {
	ID            string     `json:"id" bson:"id"`
	Title         string     `json:"title" bson:"title"`
	Content       string     `json:"content" bson:"content"`
	Version       int64      `json:"version" bson:"version"`
	Owner         Identity   `json:"owner" bson:"owner"`
	Collaborators []Identity `json:"collaborators" bson:"collaborators"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" bson:"updated_at"`
	Versions      []string   `json:"versions" bson:"versions"`
}

// Clone returns a deep copy so snapshots never share slices with the live note.
func (n *Note) Clone() Note {
	c := *n
	c.Collaborators = append([]Identity(nil), n.Collaborators...)
	c.Versions = append([]string(nil), n.Versions...)
	if c.Collaborators == nil {
		c.Collaborators = []Identity{}
	}
	if c.Versions == nil {
		c.Versions = []string{}
	}
	return c
}

func (n *Note) HasCollaborator(username string) bool {
	for _, c := range n.Collaborators {
		if c.Username == username {
			return true
		}
	}
	return false
}

// AddCollaborator appends id unless a collaborator with the same username
// is already present. It reports whether the set changed.
func (n *Note) AddCollaborator(id Identity) bool {
	if n.HasCollaborator(id.Username) {
		return false
	}
	n.Collaborators = append(n.Collaborators, id)
	return true
}

type CreateNoteRequest struct {
	Title   string `json:"title" validate:"required,min=3,max=50"`
	Content string `json:"content" validate:"required,min=3,max=10000"`
}

type UpdateNoteRequest struct {
	Title   string `json:"title" validate:"required,min=3,max=50"`
	Content string `json:"content" validate:"required,min=3,max=10000"`
}

// NoteResponse is a note with its version history populated.
type NoteResponse struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Version       int64          `json:"version"`
	Owner         Identity       `json:"owner"`
	Collaborators []Identity     `json:"collaborators"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Versions      []*NoteVersion `json:"versions"`
}

func NewNoteResponse(n *Note, versions []*NoteVersion) *NoteResponse {
	if versions == nil {
		versions = []*NoteVersion{}
	}
	collaborators := n.Collaborators
	if collaborators == nil {
		collaborators = []Identity{}
	}
	return &NoteResponse{
		ID:            n.ID,
		Title:         n.Title,
		Content:       n.Content,
		Version:       n.Version,
		Owner:         n.Owner,
		Collaborators: collaborators,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
		Versions:      versions,
	}
}

// NoteDeleted is the data carried by a NOTE_DELETED event.
type NoteDeleted struct {
	NoteID string `json:"noteId"`
	Title  string `json:"title"`
}
