package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	Role         string    `db:"role" json:"role"` // "user" or "admin"
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// FileData holds the extracted content of a file.
type FileData struct {
	Content string `json:"content,omitempty"`
}

// File represents an uploaded or imported source document.
type File struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"user_id"`
	Filename  string         `db:"filename" json:"filename"`
	Path      string         `db:"path" json:"path"` // object store key
	Hash      string         `db:"hash" json:"hash"` // sha256 of extracted content
	Data      FileData       `db:"data" json:"data"`
	Meta      map[string]any `db:"meta" json:"meta"` // name, content_type, size, collection_name
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// FileMetadata is the lightweight view of a file used in listings.
type FileMetadata struct {
	ID        string         `db:"id" json:"id"`
	Filename  string         `db:"filename" json:"filename"`
	Meta      map[string]any `db:"meta" json:"meta"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// KnowledgeData tracks the membership set of a knowledge base.
type KnowledgeData struct {
	FileIDs []string `json:"file_ids"`
}

// KnowledgeBase groups files into one queryable vector collection.
// The collection shares the knowledge base id as its name.
type KnowledgeBase struct {
	ID            string         `db:"id" json:"id"`
	UserID        string         `db:"user_id" json:"user_id"`
	Name          string         `db:"name" json:"name"`
	Description   string         `db:"description" json:"description"`
	Data          KnowledgeData  `db:"data" json:"data"`
	Meta          map[string]any `db:"meta" json:"meta"`
	AccessControl map[string]any `db:"access_control" json:"access_control"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// KnowledgeRef is a pointer from a model to a knowledge base it uses.
type KnowledgeRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ModelMeta holds the configurable metadata of a registered model.
type ModelMeta struct {
	Knowledge []KnowledgeRef `json:"knowledge,omitempty"`
}

// Model represents a registered assistant model that may attach
// knowledge bases as context sources.
type Model struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	Meta      ModelMeta `db:"meta" json:"meta"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
