package core

import "errors"

// ErrDuplicateContent indicates content whose hash already exists in
// the target collection. Callers treat it as a skip, not a failure.
var ErrDuplicateContent = errors.New("duplicate content detected, skipped processing")

// ErrFileAlreadyInCollection indicates the file id is already a member
// of the target collection.
var ErrFileAlreadyInCollection = errors.New("file already in knowledge base collection")

// ErrEmptyContent indicates extraction produced no usable text.
var ErrEmptyContent = errors.New("no content to process")

// ErrContentExtraction indicates the extraction engine failed on a
// readable payload.
var ErrContentExtraction = errors.New("text extraction failed")

// ErrMissingDependency indicates a required external converter binary
// is not installed on the host.
var ErrMissingDependency = errors.New("required conversion dependency not installed")

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("resource not found")

// ErrAccessDenied indicates the actor lacks permission on the record.
var ErrAccessDenied = errors.New("access denied")

// Actor is the minimal identity threaded through service calls for
// attribution and access checks.
type Actor struct {
	ID    string
	Email string
	Role  string
}

// IsAdmin reports whether the actor bypasses per-record access checks.
func (a Actor) IsAdmin() bool { return a.Role == "admin" }
