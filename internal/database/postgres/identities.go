package postgres

import (
	"context"
	"fmt"

	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/pgvector/pgvector-go"
)

// IdentityMirror keeps a queryable copy of the identity ledger in PostgreSQL.
// It implements database.Mirror.
type IdentityMirror struct {
	pool *Pool
}

// NewIdentityMirror creates a mirror over an open pool.
func NewIdentityMirror(pool *Pool) *IdentityMirror {
	return &IdentityMirror{pool: pool}
}

// MirroredIdentity is one row of the identities table.
type MirroredIdentity struct {
	ContentHash string
	Ordinal     int
	UserID      string
	ImagePath   string
	Score       float64 // inner product with the query, set by Nearest
}

// Push upserts an entry keyed by its content hash.
func (m *IdentityMirror) Push(ctx context.Context, e database.Entry) error {
	query := `
		INSERT INTO identities (content_hash, ordinal, user_id, image_path, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)
		ON CONFLICT (content_hash) DO UPDATE SET
			ordinal = EXCLUDED.ordinal,
			user_id = EXCLUDED.user_id,
			image_path = EXCLUDED.image_path,
			embedding = EXCLUDED.embedding
	`

	vec := pgvector.NewVector(e.Embedding)
	_, err := m.pool.Exec(ctx, query, e.Record.ContentHash, e.Ordinal, e.Record.UserID, e.Record.ImagePath, vec)
	if err != nil {
		return fmt.Errorf("save identity: %w", err)
	}
	return nil
}

// Count returns the number of mirrored identities.
func (m *IdentityMirror) Count(ctx context.Context) (int, error) {
	var count int
	err := m.pool.QueryRow(ctx, "SELECT COUNT(*) FROM identities").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// Nearest returns the limit rows with the highest inner product to embedding.
func (m *IdentityMirror) Nearest(ctx context.Context, embedding []float32, limit int) ([]MirroredIdentity, error) {
	// <#> is the negative inner product.
	query := `
		SELECT content_hash, ordinal, user_id, image_path, -(embedding <#> $1::vector) AS score
		FROM identities
		ORDER BY embedding <#> $1::vector
		LIMIT $2
	`

	rows, err := m.pool.Query(ctx, query, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest identities: %w", err)
	}
	defer rows.Close()

	var results []MirroredIdentity
	for rows.Next() {
		var r MirroredIdentity
		if err := rows.Scan(&r.ContentHash, &r.Ordinal, &r.UserID, &r.ImagePath, &r.Score); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return results, nil
}

// Get returns the mirrored embedding for a content hash, or nil when absent.
func (m *IdentityMirror) Get(ctx context.Context, hash string) ([]float32, error) {
	var vec pgvector.Vector
	err := m.pool.QueryRow(ctx, "SELECT embedding FROM identities WHERE content_hash = $1", hash).Scan(&vec)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query identity: %w", err)
	}
	return vec.Slice(), nil
}

// Close closes the underlying pool.
func (m *IdentityMirror) Close() error {
	return m.pool.Close()
}
