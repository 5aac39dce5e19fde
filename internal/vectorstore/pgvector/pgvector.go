// Package pgvector stores chunks in PostgreSQL with the pgvector extension.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"inkwell/internal/model"
	"inkwell/internal/vectorstore"
)

const DefaultTable = "context_chunks"

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type Config struct {
	Table     string
	Dimension int
}

type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New wraps an open pool. Call Migrate once before first use.
func New(pool *pgxpool.Pool, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid pgvector table name %q", cfg.Table)
	}
	if cfg.Dimension <= 0 {
		return nil, errors.New("pgvector dimension must be positive")
	}
	return &Store{pool: pool, cfg: cfg}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.cfg.Table, s.cfg.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_scope_idx ON %s (tenant_id, source_type, source_id)`,
			s.cfg.Table, s.cfg.Table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`,
			s.cfg.Table, s.cfg.Table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector migrate failed: %w", err)
		}
	}
	return nil
}

// buildSearch renders the similarity query. The tenant filter is always present.
func buildSearch(table string, q vectorstore.Query) (string, []any) {
	args := []any{pgvector.NewVector(q.Embedding), q.Scope.TenantID}
	where := []string{"tenant_id = $2"}

	if len(q.SourceTypes) > 0 {
		types := make([]string, len(q.SourceTypes))
		for i, t := range q.SourceTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		where = append(where, fmt.Sprintf("source_type = ANY($%d)", len(args)))
	}
	if len(q.SourceIDs) > 0 {
		args = append(args, q.SourceIDs)
		where = append(where, fmt.Sprintf("source_id = ANY($%d)", len(args)))
	}
	if q.MinSimilarity != nil {
		args = append(args, *q.MinSimilarity)
		where = append(where, fmt.Sprintf("1 - (embedding <=> $1) >= $%d", len(args)))
	}
	args = append(args, q.TopK)

	sql := fmt.Sprintf(`SELECT id, tenant_id, source_type, source_id, chunk_index, content, metadata, embedding, created_at,
		1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1, created_at, id
		LIMIT $%d`, table, strings.Join(where, " AND "), len(args))
	return sql, args
}

func (s *Store) Search(ctx context.Context, q vectorstore.Query) ([]vectorstore.Hit, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if len(q.Embedding) != s.cfg.Dimension {
		return nil, vectorstore.ErrDimensionMismatch
	}

	sql, args := buildSearch(s.cfg.Table, q)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector search failed: %w", err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var h vectorstore.Hit
		if err := scanChunk(rows, &h.Chunk, &h.Similarity); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector search rows failed: %w", err)
	}
	// The index orders by distance only; re-sort so ties follow the shared order.
	vectorstore.SortHits(hits)
	return hits, nil
}

func scanChunk(rows pgx.Rows, c *model.Chunk, similarity *float64) error {
	var (
		sourceType string
		meta       []byte
		vec        pgvector.Vector
	)
	dest := []any{&c.ID, &c.TenantID, &sourceType, &c.SourceID, &c.ChunkIndex, &c.Text, &meta, &vec, &c.CreatedAt}
	if similarity != nil {
		dest = append(dest, similarity)
	}
	if err := rows.Scan(dest...); err != nil {
		return fmt.Errorf("pgvector scan failed: %w", err)
	}
	c.SourceType = model.SourceType(sourceType)
	c.SetEmbedding(vec.Slice())
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return fmt.Errorf("pgvector decode metadata failed: %w", err)
		}
	}
	return nil
}

func (s *Store) insert(ctx context.Context, tx pgx.Tx, chunks []model.Chunk) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (id, tenant_id, source_type, source_id, chunk_index, content, metadata, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, s.cfg.Table)

	batch := &pgx.Batch{}
	for i := range chunks {
		c := &chunks[i]
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("pgvector encode metadata failed: %w", err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		batch.Queue(stmt, c.ID, c.TenantID, string(c.SourceType), c.SourceID, c.ChunkIndex, c.Text, meta,
			pgvector.NewVector(c.EmbeddingVector()), createdAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("pgvector insert failed: %w", err)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := vectorstore.CheckWrite(vectorstore.Scope{}, s.cfg.Dimension, "", "", chunks); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.insert(ctx, tx, chunks)
	})
}

func (s *Store) Replace(ctx context.Context, scope vectorstore.Scope, sourceType model.SourceType, sourceID string, chunks []model.Chunk) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if err := vectorstore.CheckWrite(scope, s.cfg.Dimension, sourceType, sourceID, chunks); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := s.deleteSource(ctx, tx, scope, sourceType, sourceID); err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return s.insert(ctx, tx, chunks)
	})
}

func (s *Store) deleteSource(ctx context.Context, tx pgx.Tx, scope vectorstore.Scope, sourceType model.SourceType, sourceID string) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND source_type = $2 AND source_id = $3`, s.cfg.Table)
	if _, err := tx.Exec(ctx, sql, scope.TenantID, string(sourceType), sourceID); err != nil {
		return fmt.Errorf("pgvector delete failed: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, scope vectorstore.Scope, sourceType model.SourceType, sourceID string) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return s.deleteSource(ctx, tx, scope, sourceType, sourceID)
	})
}

func (s *Store) List(ctx context.Context, scope vectorstore.Scope, sourceType model.SourceType, sourceID string) ([]model.Chunk, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT id, tenant_id, source_type, source_id, chunk_index, content, metadata, embedding, created_at
		FROM %s WHERE tenant_id = $1 AND source_type = $2 AND source_id = $3 ORDER BY chunk_index`, s.cfg.Table)
	rows, err := s.pool.Query(ctx, sql, scope.TenantID, string(sourceType), sourceID)
	if err != nil {
		return nil, fmt.Errorf("pgvector list failed: %w", err)
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		var c model.Chunk
		if err := scanChunk(rows, &c, nil); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector list rows failed: %w", err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
