package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/tessera-ai/tessera/internal/core"
)

// PgVectorClient stores embedded chunks in a single vector_chunks
// table partitioned logically by collection name. A collection
// "exists" when it has at least one row.
type PgVectorClient struct {
	db *sql.DB
}

func NewPgVectorClient(db *sql.DB) (core.VectorClient, error) {
	if db == nil {
		return nil, errors.New("nil db handle")
	}
	return &PgVectorClient{db: db}, nil
}

var _ core.VectorClient = (*PgVectorClient)(nil)

func (c *PgVectorClient) HasCollection(ctx context.Context, collection string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM vector_chunks WHERE collection = $1)`
	var exists bool
	if err := c.db.QueryRowContext(ctx, q, collection).Scan(&exists); err != nil {
		return false, fmt.Errorf("collection check: %w", err)
	}
	return exists, nil
}

func (c *PgVectorClient) DeleteCollection(ctx context.Context, collection string) error {
	const q = `DELETE FROM vector_chunks WHERE collection = $1`
	if _, err := c.db.ExecContext(ctx, q, collection); err != nil {
		return fmt.Errorf("delete collection %s: %w", collection, err)
	}
	return nil
}

// Insert writes all items in a single transaction.
func (c *PgVectorClient) Insert(ctx context.Context, collection string, items []core.VectorItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO vector_chunks (id, collection, text, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range items {
		it := &items[i]
		meta, err := json.Marshal(it.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode chunk metadata: %w", err)
		}
		var vec any
		if it.Vector != nil {
			vec = pgvector.NewVector(it.Vector)
		}
		if _, err := stmt.ExecContext(ctx, it.ID, collection, it.Text, vec, meta); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (c *PgVectorClient) Get(ctx context.Context, collection string) (*core.GetResult, error) {
	const q = `
		SELECT id, text, metadata
		FROM vector_chunks
		WHERE collection = $1
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResult(rows)
}

// Query returns rows whose metadata contains every key/value in the
// filter. Values are matched by jsonb containment, so scalars compare
// by equality.
func (c *PgVectorClient) Query(ctx context.Context, collection string, filter map[string]any) (*core.GetResult, error) {
	f, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	const q = `
		SELECT id, text, metadata
		FROM vector_chunks
		WHERE collection = $1 AND metadata @> $2::jsonb
		ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, collection, f)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResult(rows)
}

func (c *PgVectorClient) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	f, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("encode filter: %w", err)
	}
	const q = `DELETE FROM vector_chunks WHERE collection = $1 AND metadata @> $2::jsonb`
	if _, err := c.db.ExecContext(ctx, q, collection, f); err != nil {
		return fmt.Errorf("delete by filter: %w", err)
	}
	return nil
}

func (c *PgVectorClient) Reset(ctx context.Context) error {
	const q = `TRUNCATE vector_chunks`
	if _, err := c.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("reset vector store: %w", err)
	}
	return nil
}

func scanResult(rows *sql.Rows) (*core.GetResult, error) {
	res := &core.GetResult{}
	for rows.Next() {
		var (
			id, text string
			meta     []byte
		)
		if err := rows.Scan(&id, &text, &meta); err != nil {
			return nil, err
		}
		m := map[string]any{}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m); err != nil {
				return nil, fmt.Errorf("decode chunk metadata: %w", err)
			}
		}
		res.IDs = append(res.IDs, id)
		res.Documents = append(res.Documents, text)
		res.Metadatas = append(res.Metadatas, m)
	}
	return res, rows.Err()
}
