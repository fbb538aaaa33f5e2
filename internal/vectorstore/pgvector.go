package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kloudping-venkat/DevopsMate/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// PgvectorStore implements VectorStoreDriver using PostgreSQL with the
// pgvector extension. The connection URL comes from DEVOPSMATE_PGVECTOR_URL.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore creates a pgvector-backed vector store.
// It creates the required table and index if they don't exist.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS dm_chunk_vectors (
			id                TEXT NOT NULL,
			knowledge_base_id TEXT NOT NULL,
			metadata          JSONB NOT NULL DEFAULT '{}',
			vector            vector(%d) NOT NULL,
			PRIMARY KEY (knowledge_base_id, id)
		);

		CREATE INDEX IF NOT EXISTS idx_dm_chunk_vectors_kb ON dm_chunk_vectors (knowledge_base_id);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, kbID string, records []contracts.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO dm_chunk_vectors (id, knowledge_base_id, metadata, vector) VALUES `)

	args := make([]any, 0, len(records)*4)
	for i, r := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*4 + 1
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base, base+1, base+2, base+3)
		metadata := r.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		args = append(args, r.ID, kbID, metadata, pgvectorArray(r.Vector))
	}

	sb.WriteString(` ON CONFLICT (knowledge_base_id, id) DO UPDATE SET
		metadata = EXCLUDED.metadata,
		vector = EXCLUDED.vector`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PgvectorStore) Search(ctx context.Context, kbID string, vector []float64, topK int) ([]contracts.VectorMatch, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, 1 - (vector <=> $1) AS score
		FROM dm_chunk_vectors
		WHERE knowledge_base_id = $2
		ORDER BY vector <=> $1, id
		LIMIT $3`, pgvectorArray(vector), kbID, topK)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var matches []contracts.VectorMatch
	for rows.Next() {
		var m contracts.VectorMatch
		if err := rows.Scan(&m.ID, &m.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PgvectorStore) Delete(ctx context.Context, kbID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, "DELETE FROM dm_chunk_vectors WHERE knowledge_base_id = $1 AND id = ANY($2)", kbID, ids)
	return err
}

func (s *PgvectorStore) Contains(ctx context.Context, kbID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM dm_chunk_vectors WHERE knowledge_base_id = $1 AND id = ANY($2)", kbID, ids).Scan(&n)
	return n, err
}

// Count returns the number of vectors stored for a knowledge base.
func (s *PgvectorStore) Count(ctx context.Context, kbID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM dm_chunk_vectors WHERE knowledge_base_id = $1", kbID).Scan(&count)
	return count, err
}

func (s *PgvectorStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float64 slice to pgvector's text format: [1.0,2.0,3.0]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}
