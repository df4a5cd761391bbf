package repository

import "errors"

var (
	ErrNotFound = errors.New("document not found")
	// ErrVersionConflict means the stored document changed since it was read.
	ErrVersionConflict = errors.New("document version conflict")
	ErrDuplicate       = errors.New("document already exists")
)
