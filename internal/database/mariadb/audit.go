package mariadb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kozaktomas/face-gate/internal/database"
)

// AuditMirror records every ingested identity in MariaDB for auditing.
// It implements database.Mirror.
type AuditMirror struct {
	pool *Pool
}

// Open connects to MariaDB and brings the audit schema up to date.
func Open(ctx context.Context, dsn string) (*AuditMirror, error) {
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &AuditMirror{pool: pool}, nil
}

// Push upserts an entry. The embedding is stored as a JSON list in a
// mediumblob column.
func (m *AuditMirror) Push(ctx context.Context, e database.Entry) error {
	data, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}

	query := `
		INSERT INTO face_identities (content_hash, ordinal, user_id, image_path, embedding_json)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			ordinal = VALUES(ordinal),
			user_id = VALUES(user_id),
			image_path = VALUES(image_path),
			embedding_json = VALUES(embedding_json)
	`
	if _, err := m.pool.db.ExecContext(ctx, query,
		e.Record.ContentHash, e.Ordinal, e.Record.UserID, e.Record.ImagePath, data); err != nil {
		return fmt.Errorf("save audit identity: %w", err)
	}
	return nil
}

// Count returns the number of audited identities.
func (m *AuditMirror) Count(ctx context.Context) (int, error) {
	var count int
	if err := m.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM face_identities`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit identities: %w", err)
	}
	return count, nil
}

// CountByUser returns how many exemplars each user has.
func (m *AuditMirror) CountByUser(ctx context.Context) (map[string]int, error) {
	rows, err := m.pool.db.QueryContext(ctx,
		`SELECT user_id, COUNT(*) FROM face_identities GROUP BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query audit identities: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var user string
		var n int
		if err := rows.Scan(&user, &n); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		counts[user] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return counts, nil
}

// Close closes the connection pool.
func (m *AuditMirror) Close() error {
	return m.pool.Close()
}
