package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tessera-ai/tessera/internal/models"
)

// Implementing the db interface for knowledge bases

func (c *DatabaseClient) CreateKnowledge(ctx context.Context, kb *models.KnowledgeBase) error {
	if kb == nil {
		return errors.New("nil knowledge base")
	}
	data, err := marshalJSONB(kb.Data)
	if err != nil {
		return fmt.Errorf("encode knowledge data: %w", err)
	}
	meta, err := marshalJSONB(kb.Meta)
	if err != nil {
		return fmt.Errorf("encode knowledge meta: %w", err)
	}
	access, err := marshalJSONB(kb.AccessControl)
	if err != nil {
		return fmt.Errorf("encode access control: %w", err)
	}
	const q = `
		INSERT INTO knowledge_bases
			(id, user_id, name, description, data, meta, access_control, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()), COALESCE($9, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		kb.ID, kb.UserID, kb.Name, kb.Description, data, meta, access, kb.CreatedAt, kb.UpdatedAt)
	return err
}

func (c *DatabaseClient) GetKnowledgeByID(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	const q = `
		SELECT id, user_id, name, description, data, meta, access_control, created_at, updated_at
		FROM knowledge_bases
		WHERE id = $1
	`
	row := c.db.QueryRowContext(ctx, q, id)
	kb, err := scanKnowledge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return kb, nil
}

func (c *DatabaseClient) ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	const q = `
		SELECT id, user_id, name, description, data, meta, access_control, created_at, updated_at
		FROM knowledge_bases
		ORDER BY updated_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *kb)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateKnowledgeByID(ctx context.Context, id string, name, description string) error {
	const q = `
		UPDATE knowledge_bases
		SET name = $2, description = $3, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, name, description)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("knowledge base not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) UpdateKnowledgeDataByID(ctx context.Context, id string, data models.KnowledgeData) error {
	if data.FileIDs == nil {
		data.FileIDs = []string{}
	}
	enc, err := marshalJSONB(data)
	if err != nil {
		return fmt.Errorf("encode knowledge data: %w", err)
	}
	const q = `
		UPDATE knowledge_bases
		SET data = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, enc)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("knowledge base not found: %s", id)
	}
	return nil
}

func (c *DatabaseClient) DeleteKnowledgeByID(ctx context.Context, id string) error {
	const q = `DELETE FROM knowledge_bases WHERE id = $1`
	_, err := c.db.ExecContext(ctx, q, id)
	return err
}

// ListKnowledgeBasesReferencingFile returns every knowledge base whose
// membership set contains the file id. Used for orphan detection.
func (c *DatabaseClient) ListKnowledgeBasesReferencingFile(ctx context.Context, fileID string) ([]models.KnowledgeBase, error) {
	const q = `
		SELECT id, user_id, name, description, data, meta, access_control, created_at, updated_at
		FROM knowledge_bases
		WHERE data->'file_ids' @> to_jsonb($1::text)
	`
	rows, err := c.db.QueryContext(ctx, q, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *kb)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledge(row rowScanner) (*models.KnowledgeBase, error) {
	var (
		kb                 models.KnowledgeBase
		data, meta, access []byte
	)
	if err := row.Scan(
		&kb.ID, &kb.UserID, &kb.Name, &kb.Description, &data, &meta, &access, &kb.CreatedAt, &kb.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := unmarshalJSONB(data, &kb.Data); err != nil {
		return nil, fmt.Errorf("decode knowledge data: %w", err)
	}
	if err := unmarshalJSONB(meta, &kb.Meta); err != nil {
		return nil, fmt.Errorf("decode knowledge meta: %w", err)
	}
	if err := unmarshalJSONB(access, &kb.AccessControl); err != nil {
		return nil, fmt.Errorf("decode access control: %w", err)
	}
	return &kb, nil
}

// Implementing the db interface for models

func (c *DatabaseClient) ListModels(ctx context.Context) ([]models.Model, error) {
	const q = `
		SELECT id, user_id, name, meta, created_at, updated_at
		FROM ai_models
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Model
	for rows.Next() {
		var (
			m    models.Model
			meta []byte
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &meta, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalJSONB(meta, &m.Meta); err != nil {
			return nil, fmt.Errorf("decode model meta: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateModelMetaByID(ctx context.Context, id string, meta models.ModelMeta) error {
	enc, err := marshalJSONB(meta)
	if err != nil {
		return fmt.Errorf("encode model meta: %w", err)
	}
	const q = `
		UPDATE ai_models
		SET meta = $2, updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, id, enc)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("model not found: %s", id)
	}
	return nil
}
