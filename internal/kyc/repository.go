package kyc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresProfiles reads and updates the profiles table (see db/schema.sql).
type PostgresProfiles struct {
	db *sql.DB
}

func NewPostgresProfiles(db *sql.DB) *PostgresProfiles {
	return &PostgresProfiles{db: db}
}

const profileColumns = `id, email, full_name, kyc_status, COALESCE(kyc_document_path, ''), COALESCE(kyc_notes, ''), kyc_verified_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var status string
	var verified sql.NullTime
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &status, &p.DocumentPath, &p.Notes, &verified, &p.UpdatedAt); err != nil {
		return Profile{}, err
	}
	p.KYCStatus = Status(status)
	if verified.Valid {
		t := verified.Time
		p.VerifiedAt = &t
	}
	return p, nil
}

func (r *PostgresProfiles) Get(ctx context.Context, userID string) (Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(r.db.QueryRowContext(ctx, q, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (r *PostgresProfiles) ListByStatus(ctx context.Context, status Status) ([]Profile, error) {
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE kyc_status = $1 ORDER BY updated_at ASC`
	rows, err := r.db.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresProfiles) ApplyDecision(ctx context.Context, userID string, status Status, notes string, at time.Time) (Profile, error) {
	q := `
UPDATE profiles
SET kyc_status = $2,
    kyc_notes = $3,
    kyc_verified_at = CASE WHEN $2 = 'verified' THEN $4 ELSE kyc_verified_at END,
    updated_at = $4
WHERE id = $1
RETURNING ` + profileColumns
	p, err := scanProfile(r.db.QueryRowContext(ctx, q, userID, string(status), notes, at))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("apply kyc decision: %w", err)
	}
	return p, nil
}
