package store

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/tutor/internal/models"
	"github.com/xhad/tutor/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	IVFLists   int
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PGVector is a vector backend on PostgreSQL with the pgvector extension.
// All namespaces share one table keyed by (namespace, id).
type PGVector struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*PGVector, error) {
	if config.TableName == "" {
		config.TableName = "course_chunks"
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, types.Configf("invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.IVFLists == 0 {
		config.IVFLists = 100
	}
	if config.ConnString == "" {
		return nil, types.Configf("database url is required")
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &PGVector{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *PGVector) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			namespace TEXT NOT NULL,
			id TEXT NOT NULL,
			model TEXT NOT NULL,
			content TEXT,
			embedding vector(%d),
			metadata JSONB,
			PRIMARY KEY (namespace, id)
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`,
		vs.config.TableName, vs.config.TableName, vs.config.IVFLists)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Upsert writes entries in transactions of BatchSize rows. Re-upserting an
// id overwrites its vector and metadata.
func (vs *PGVector) Upsert(ctx context.Context, namespace string, entries []models.Entry) error {
	if namespace == "" {
		return types.Configf("namespace is required")
	}
	for _, e := range entries {
		if e.ID == "" {
			return types.Configf("entry id is required")
		}
		if len(e.Vector.Values) != vs.config.VectorDim {
			return types.Configf("entry %s has %d dimensions, table expects %d", e.ID, len(e.Vector.Values), vs.config.VectorDim)
		}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (namespace, id, model, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (namespace, id) DO UPDATE SET
			model = EXCLUDED.model,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	for start := 0; start < len(entries); start += vs.config.BatchSize {
		end := start + vs.config.BatchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := vs.upsertBatch(ctx, stmt, namespace, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (vs *PGVector) upsertBatch(ctx context.Context, stmt, namespace string, entries []models.Entry) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return vs.fail("upsert", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		metadata := copyMetadata(e.Metadata)
		content := sanitizeUTF8(e.Text())
		metadata["text"] = content

		_, err = tx.Exec(ctx, stmt,
			namespace,
			e.ID,
			e.Vector.Model,
			content,
			pgvector.NewVector(e.Vector.Values),
			metadata,
		)
		if err != nil {
			return vs.fail("upsert", fmt.Errorf("failed to insert entry %s: %w", e.ID, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return vs.fail("upsert", fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

// Query returns the topK entries of namespace produced by the same model as
// vector, by descending cosine similarity and then id.
func (vs *PGVector) Query(ctx context.Context, namespace string, vector models.Vector, topK int) ([]models.Match, error) {
	query := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> $2) AS score
		FROM %s
		WHERE namespace = $1 AND model = $3
		ORDER BY embedding <=> $2, id
		LIMIT $4`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, namespace, pgvector.NewVector(vector.Values), vector.Model, topK)
	if err != nil {
		return nil, vs.fail("query", fmt.Errorf("failed to query namespace %s: %w", namespace, err))
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		m := models.Match{Entry: models.Entry{Namespace: namespace, Vector: models.Vector{Model: vector.Model}}}
		if err := rows.Scan(&m.ID, &m.Metadata, &m.Score); err != nil {
			return nil, vs.fail("query", fmt.Errorf("failed to scan row: %w", err))
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, vs.fail("query", err)
	}

	return matches, nil
}

func (vs *PGVector) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := vs.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT namespace FROM %s ORDER BY namespace`, vs.config.TableName))
	if err != nil {
		return nil, vs.fail("list", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, vs.fail("list", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (vs *PGVector) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := vs.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE namespace = $1`, vs.config.TableName), namespace)
	if err != nil {
		return vs.fail("delete", err)
	}
	return nil
}

func (vs *PGVector) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func (vs *PGVector) fail(op string, err error) error {
	return &types.ProviderError{Provider: "pgvector", Op: op, Kind: types.ErrTransientProvider, Err: err}
}

// sanitizeUTF8 drops invalid bytes, which PDF text extraction tends to produce.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
