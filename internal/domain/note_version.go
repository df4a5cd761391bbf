package domain

import "time"

// NoteVersion is an immutable snapshot of a note taken before an update.
// Version is the number the snapshot superseded.
type NoteVersion struct {
	ID        string    `json:"id" bson:"id"`
	NoteID    string    `json:"note_id" bson:"note_id"`
	Version   int64     `json:"version" bson:"version"`
	Data      Note      `json:"data" bson:"data"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
