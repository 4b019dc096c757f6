// Package store implements the tenant-namespaced vector index on Postgres
// with pgvector. Each tenant gets its own table, so isolation holds at the
// storage layer: a query can never cross tenants even with a missing filter.
package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/lexhaus/briefcase/internal/models"
	"github.com/lexhaus/briefcase/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	// TableBase prefixes every tenant namespace table.
	TableBase string
	VectorDim int
}

type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool

	mu    sync.Mutex
	ready map[string]bool // namespaces already initialized
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableBase == "" {
		config.TableBase = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		ready:  make(map[string]bool),
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	return vs, nil
}

// Namespace derives the tenant's table name. The tenant id is hashed so any
// identifier becomes a safe SQL name, and two tenants can never share a
// table.
func (vs *VectorStore) Namespace(tenantID string) string {
	sum := sha1.Sum([]byte(tenantID))
	return fmt.Sprintf("%s_t_%s", vs.config.TableBase, hex.EncodeToString(sum[:])[:12])
}

func (vs *VectorStore) ensureNamespace(ctx context.Context, tenantID string) (string, error) {
	table := vs.Namespace(tenantID)

	vs.mu.Lock()
	initialized := vs.ready[table]
	vs.mu.Unlock()
	if initialized {
		return table, nil
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			section TEXT,
			heading TEXT,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table, vs.config.VectorDim)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return "", fmt.Errorf("failed to create namespace table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`, table, table)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return "", fmt.Errorf("failed to create vector index: %w", err)
	}

	docIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id)`, table, table)
	if _, err := vs.pool.Exec(ctx, docIndex); err != nil {
		return "", fmt.Errorf("failed to create document index: %w", err)
	}

	vs.mu.Lock()
	vs.ready[table] = true
	vs.mu.Unlock()
	return table, nil
}

// Store upserts one vector record per chunk into the tenant's namespace,
// in a single transaction. Storing the same document twice upserts in place;
// clearing stale vectors on reprocess is the pipeline's job via Delete.
func (vs *VectorStore) Store(ctx context.Context, tenantID, documentID string, chunks []models.Chunk, vectors [][]float32) (int, []string, error) {
	if len(chunks) != len(vectors) {
		return 0, nil, fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	table, err := vs.ensureNamespace(ctx, tenantID)
	if err != nil {
		return 0, nil, err
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, chunk_index, content, section, heading, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			section = EXCLUDED.section,
			heading = EXCLUDED.heading,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`, table)

	ids := make([]string, 0, len(chunks))
	now := time.Now().UTC()
	for i, chunk := range chunks {
		_, err := tx.Exec(ctx, stmt,
			chunk.ID,
			documentID,
			chunk.Index,
			chunk.Text,
			chunk.Section,
			chunk.Heading,
			pgvector.NewVector(vectors[i]),
			now,
		)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to insert chunk %s: %w", chunk.ID, err)
		}
		ids = append(ids, chunk.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return len(ids), ids, nil
}

// Search returns the chunks most similar to the query vector, scoped to the
// tenant namespace and optionally one document. Cosine distance is mapped to
// a 0-1 higher-is-better similarity; matches below params.Threshold are
// discarded before returning.
func (vs *VectorStore) Search(ctx context.Context, tenantID string, vector []float32, params types.SearchParams) ([]models.ScoredChunk, error) {
	table, err := vs.ensureNamespace(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if params.TopK <= 0 {
		params.TopK = 5
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, chunk_index, content, created_at,
		       1 - (embedding <=> $1) AS score
		FROM %s`, table)
	args := []interface{}{pgvector.NewVector(vector)}

	if params.DocumentID != "" {
		query += " WHERE document_id = $2"
		args = append(args, params.DocumentID)
	}
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", params.TopK)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var sc models.ScoredChunk
		var score float64
		if err := rows.Scan(&sc.ChunkID, &sc.DocumentID, &sc.Index, &sc.Content, &sc.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sc.Score = NormalizeScore(score)
		if sc.Score < params.Threshold {
			continue
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

// Delete removes every vector record for a document from the tenant's
// namespace. Deleting a document that has no vectors is a no-op.
func (vs *VectorStore) Delete(ctx context.Context, tenantID, documentID string) error {
	table, err := vs.ensureNamespace(ctx, tenantID)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE document_id = $1", table)
	if _, err := vs.pool.Exec(ctx, stmt, documentID); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// NormalizeScore clamps a cosine-similarity score into [0, 1]. pgvector's
// cosine distance lies in [0, 2], so 1-distance can go slightly negative for
// opposed vectors.
func NormalizeScore(score float64) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return float32(score)
}
