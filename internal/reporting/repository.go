package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"videokyc-platform/internal/calls"
)

// PostgresRepo reads the video_calls table for reports.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListCalls(ctx context.Context, from, to time.Time, responderID string) ([]calls.Record, error) {
	const q = `
SELECT id, requester_id, COALESCE(responder_id, ''), status, call_type,
       COALESCE(verification_result, ''), created_at, updated_at, connected_at
FROM video_calls
WHERE created_at >= $1 AND created_at < $2
  AND ($3 = '' OR responder_id = $3)
ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, q, from, to, responderID)
	if err != nil {
		return nil, fmt.Errorf("report calls: %w", err)
	}
	defer rows.Close()

	var out []calls.Record
	for rows.Next() {
		var (
			c           calls.Record
			connectedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.RequesterID, &c.ResponderID, &c.Status, &c.CallType,
			&c.VerificationResult, &c.CreatedAt, &c.UpdatedAt, &connectedAt); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		if connectedAt.Valid {
			t := connectedAt.Time
			c.ConnectedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
