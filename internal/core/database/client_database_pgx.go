package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tessera-ai/tessera/internal/config"
	"github.com/tessera-ai/tessera/internal/core"
	"github.com/tessera-ai/tessera/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Sensible pool settings for an API service; adjust as needed.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	// Ensure bootstrap once
	if err := EnsureBootstrapped(ctx, db); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// DB exposes the underlying pool so sibling stores (vector chunks)
// can share the same connection settings and bootstrap.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for user

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()), COALESCE($7, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.PasswordHash, user.Role, user.CreatedAt, user.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, role, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Implementing the db interface for files

func (c *DatabaseClient) CreateFile(ctx context.Context, file *models.File) error {
	if file == nil {
		return errors.New("nil file")
	}
	data, err := marshalJSONB(file.Data)
	if err != nil {
		return fmt.Errorf("encode file data: %w", err)
	}
	meta, err := marshalJSONB(file.Meta)
	if err != nil {
		return fmt.Errorf("encode file meta: %w", err)
	}
	const q = `
		INSERT INTO files
			(id, user_id, filename, path, hash, data, meta, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), COALESCE($9, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		file.ID, file.UserID, file.Filename, file.Path, file.Hash, data, meta, file.CreatedAt, file.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetFileByID(ctx context.Context, id string) (*models.File, error) {
	const q = `
		SELECT id, user_id, filename, path, hash, data, meta, created_at, updated_at
		FROM files
		WHERE id = $1
	`
	var (
		f          models.File
		data, meta []byte
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(
		&f.ID, &f.UserID, &f.Filename, &f.Path, &f.Hash, &data, &meta, &f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(data, &f.Data); err != nil {
		return nil, fmt.Errorf("decode file data: %w", err)
	}
	if err := unmarshalJSONB(meta, &f.Meta); err != nil {
		return nil, fmt.Errorf("decode file meta: %w", err)
	}
	return &f, nil
}

func (c *DatabaseClient) GetFilesByIDs(ctx context.Context, ids []string) ([]models.File, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
		SELECT id, user_id, filename, path, hash, data, meta, created_at, updated_at
		FROM files
		WHERE id = ANY($1)
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.File
	for rows.Next() {
		var (
			f          models.File
			data, meta []byte
		)
		if err := rows.Scan(
			&f.ID, &f.UserID, &f.Filename, &f.Path, &f.Hash, &data, &meta, &f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := unmarshalJSONB(data, &f.Data); err != nil {
			return nil, fmt.Errorf("decode file data: %w", err)
		}
		if err := unmarshalJSONB(meta, &f.Meta); err != nil {
			return nil, fmt.Errorf("decode file meta: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) GetFileMetadatasByIDs(ctx context.Context, ids []string) ([]models.FileMetadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
		SELECT id, filename, meta, created_at, updated_at
		FROM files
		WHERE id = ANY($1)
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FileMetadata
	for rows.Next() {
		var (
			fm   models.FileMetadata
			meta []byte
		)
		if err := rows.Scan(&fm.ID, &fm.Filename, &meta, &fm.CreatedAt, &fm.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSONB(meta, &fm.Meta); err != nil {
			return nil, fmt.Errorf("decode file meta: %w", err)
		}
		out = append(out, fm)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateFileContentByID(ctx context.Context, id string, content string) error {
	const q = `
		UPDATE files
		SET data = jsonb_set(COALESCE(data, '{}'::jsonb), '{content}', to_jsonb($2::text)),
		    updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, content)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("file not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) UpdateFileHashByID(ctx context.Context, id string, hash string) error {
	const q = `
		UPDATE files
		SET hash = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, hash)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("file not found: %s", id)
	}
	return nil
}

// UpdateFileMetaByID merges the given keys into the file's meta jsonb.
func (c *DatabaseClient) UpdateFileMetaByID(ctx context.Context, id string, meta map[string]any) error {
	patch, err := marshalJSONB(meta)
	if err != nil {
		return fmt.Errorf("encode meta patch: %w", err)
	}
	const q = `
		UPDATE files
		SET meta = COALESCE(meta, '{}'::jsonb) || $2::jsonb, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, patch)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("file not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) DeleteFileByID(ctx context.Context, id string) error {
	const q = `DELETE FROM files WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, id)
	return err
}
