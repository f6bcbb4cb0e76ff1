package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"videokyc-platform/pkg/utils"
)

// NOTE: PostgresStore assumes the video_calls table and the
// video_calls_one_live_per_requester partial unique index from db/schema.sql.

const liveIndexName = "video_calls_one_live_per_requester"

const recordColumns = `id, requester_id, responder_id, status, call_type, verification_result, notes, version, created_at, updated_at, connected_at`

// PostgresStore persists call records through database/sql with the pgx driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r           Record
		responderID sql.NullString
		result      sql.NullString
		connectedAt sql.NullTime
	)
	if err := row.Scan(
		&r.ID,
		&r.RequesterID,
		&responderID,
		&r.Status,
		&r.CallType,
		&result,
		&r.Notes,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
		&connectedAt,
	); err != nil {
		return Record{}, err
	}
	r.ResponderID = responderID.String
	r.VerificationResult = Result(result.String)
	if connectedAt.Valid {
		t := connectedAt.Time
		r.ConnectedAt = &t
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (p *PostgresStore) Insert(ctx context.Context, r Record) (Record, error) {
	if err := r.Validate(); err != nil {
		return Record{}, err
	}

	var created Record
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Serialize concurrent creates for one requester before the index check.
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.RequesterID); err != nil {
			return err
		}

		q := `
SELECT EXISTS (
  SELECT 1 FROM video_calls
  WHERE requester_id = $1 AND status IN (` + placeholders(2, len(LiveStatuses())) + `)
)`
		args := append([]any{r.RequesterID}, statusArgs(LiveStatuses())...)
		var exists bool
		if err := tx.QueryRowContext(ctx, q, args...).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrLiveCallExists
		}

		const ins = `
INSERT INTO video_calls (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + recordColumns
		rec, err := scanRecord(tx.QueryRowContext(ctx, ins,
			r.ID,
			r.RequesterID,
			nullString(r.ResponderID),
			string(r.Status),
			string(r.CallType),
			nullString(string(r.VerificationResult)),
			r.Notes,
			r.Version,
			r.CreatedAt,
			r.UpdatedAt,
			nullTime(r.ConnectedAt),
		))
		if err != nil {
			return err
		}
		created = rec
		return nil
	})
	if err != nil {
		if utils.IsUniqueViolation(err, liveIndexName) {
			return Record{}, ErrLiveCallExists
		}
		if errors.Is(err, ErrLiveCallExists) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("insert call: %w", err)
	}
	return created, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM video_calls WHERE id = $1`
	r, err := scanRecord(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get call: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) CompareAndSwap(ctx context.Context, id string, expected Status, next Record) (Record, error) {
	const q = `
UPDATE video_calls
SET status = $3,
    responder_id = $4,
    verification_result = $5,
    notes = $6,
    version = version + 1,
    updated_at = $7,
    connected_at = $8
WHERE id = $1 AND status = $2
RETURNING ` + recordColumns
	r, err := scanRecord(p.db.QueryRowContext(ctx, q,
		id,
		string(expected),
		string(next.Status),
		nullString(next.ResponderID),
		nullString(string(next.VerificationResult)),
		next.Notes,
		next.UpdatedAt,
		nullTime(next.ConnectedAt),
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("update call: %w", err)
	}
	// No row matched: either the record is gone or its status moved on.
	if _, getErr := p.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
		return Record{}, ErrNotFound
	}
	return Record{}, ErrConflict
}

func (p *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Record, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	q := `SELECT ` + recordColumns + ` FROM video_calls WHERE status IN (` +
		placeholders(1, len(statuses)) + `) ORDER BY created_at ASC LIMIT 500`
	return p.list(ctx, q, statusArgs(statuses)...)
}

func (p *PostgresStore) ListStale(ctx context.Context, before time.Time) ([]Record, error) {
	live := LiveStatuses()
	q := `SELECT ` + recordColumns + ` FROM video_calls WHERE updated_at < $1 AND status IN (` +
		placeholders(2, len(live)) + `) ORDER BY updated_at ASC LIMIT 500`
	return p.list(ctx, q, append([]any{before}, statusArgs(live)...)...)
}

func (p *PostgresStore) list(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// placeholders renders "$start, $start+1, ..." for n parameters.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func statusArgs(statuses []Status) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
