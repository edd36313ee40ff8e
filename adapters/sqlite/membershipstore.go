package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/fatewise/fatewise/domain/membership"
	"github.com/fatewise/fatewise/domain/plan"
	"github.com/fatewise/fatewise/ports"
)

// MembershipStore implements ports.MembershipStore using SQLite.
type MembershipStore struct {
	db *DB
}

// NewMembershipStore creates a new SQLite membership store.
func NewMembershipStore(db *DB) *MembershipStore {
	return &MembershipStore{db: db}
}

const membershipColumns = `user_id, plan_id, active, activated_at, expires_at, remaining_credits, version, created_at, updated_at`

// Get retrieves the record for a user.
func (s *MembershipStore) Get(ctx context.Context, userID string) (membership.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE user_id = ?
	`, userID)
	return scanMembership(row)
}

// Create stores a fresh record.
func (s *MembershipStore) Create(ctx context.Context, rec membership.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (`+membershipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.UserID, string(rec.PlanID), boolToInt(rec.Active), rec.ActivatedAt,
		nullTime(rec.ExpiresAt), nullInt(rec.RemainingCredits),
		rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if isUniqueConstraintError(err) {
		return ports.ErrDuplicate
	}
	return err
}

// UpdateVersioned replaces the row only if the stored version still equals
// expectedVersion. This is the engine's single conditional-write primitive:
// the remaining_credits counter is never written without it.
func (s *MembershipStore) UpdateVersioned(ctx context.Context, rec membership.Record, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE memberships
		SET plan_id = ?, active = ?, activated_at = ?, expires_at = ?,
		    remaining_credits = ?, version = ?, updated_at = ?
		WHERE user_id = ? AND version = ?
	`,
		string(rec.PlanID), boolToInt(rec.Active), rec.ActivatedAt,
		nullTime(rec.ExpiresAt), nullInt(rec.RemainingCredits),
		rec.Version, rec.UpdatedAt,
		rec.UserID, expectedVersion,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Zero rows: either the row vanished or another writer bumped the
	// version first. Distinguish so callers can treat conflicts as
	// retryable and missing rows as integrity faults.
	var exists int
	err = s.db.QueryRowContext(ctx,
		`SELECT 1 FROM memberships WHERE user_id = ?`, rec.UserID,
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ports.ErrNotFound
	}
	if err != nil {
		return err
	}
	return ports.ErrVersionConflict
}

// ListExpired returns up to limit active records whose expiry is at or
// before now.
func (s *MembershipStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]membership.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE active = 1 AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []membership.Record
	for rows.Next() {
		rec, err := scanMembershipRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc rowScanner) (membership.Record, error) {
	var rec membership.Record
	var planID string
	var active int
	var expiresAt sql.NullTime
	var credits sql.NullInt64

	err := sc.Scan(
		&rec.UserID, &planID, &active, &rec.ActivatedAt,
		&expiresAt, &credits, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return membership.Record{}, err
	}

	rec.PlanID = plan.ID(planID)
	rec.Active = active == 1
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	if credits.Valid {
		n := credits.Int64
		rec.RemainingCredits = &n
	}
	return rec, nil
}

func scanMembership(row *sql.Row) (membership.Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return membership.Record{}, ports.ErrNotFound
	}
	return rec, err
}

func scanMembershipRows(rows *sql.Rows) (membership.Record, error) {
	return scanRecord(rows)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// Ensure interface compliance.
var _ ports.MembershipStore = (*MembershipStore)(nil)
