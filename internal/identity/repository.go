package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a user record does not exist locally yet.
var ErrNotFound = errors.New("user not found")

// selectColumns lists the columns returned by queries that produce a *User. Every method that
// scans into a User must select these columns in this exact order.
const selectColumns = `tms_user_id, email, display_name, role, division, department, is_active,
	is_leader, image_url, last_synced_at, settings_json`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.TMSUserID, &u.Email, &u.DisplayName, &u.Role, &u.Division, &u.Department,
		&u.IsActive, &u.IsLeader, &u.ImageURL, &u.LastSyncedAt, &u.Settings,
	)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed identity repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func (r *PGRepository) GetByID(ctx context.Context, userID string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM users WHERE tms_user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, nil
}

// Upsert inserts a new user row or updates the existing one keyed by tms_user_id; concurrent
// syncs for the same user_id are safe. settings_json falls back to the existing value when
// params.Settings is empty so a partial sync payload never clobbers previously-stored settings.
func (r *PGRepository) Upsert(ctx context.Context, params UpsertParams) (*User, error) {
	settings := params.Settings
	if len(settings) == 0 {
		settings = []byte(`{}`)
	}

	syncedAt := "now()"
	if params.ForceStale {
		syncedAt = "'epoch'::timestamptz"
	}

	u, err := scanUser(r.db.QueryRow(ctx,
		`INSERT INTO users (tms_user_id, email, display_name, role, division, department,
			is_active, is_leader, image_url, last_synced_at, settings_json)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, `+syncedAt+`, $10)
		 ON CONFLICT (tms_user_id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			role = EXCLUDED.role,
			division = EXCLUDED.division,
			department = EXCLUDED.department,
			is_active = EXCLUDED.is_active,
			is_leader = EXCLUDED.is_leader,
			image_url = EXCLUDED.image_url,
			last_synced_at = `+syncedAt+`,
			settings_json = CASE WHEN EXCLUDED.settings_json = '{}'::jsonb
				THEN users.settings_json ELSE EXCLUDED.settings_json END
		 RETURNING `+selectColumns,
		params.TMSUserID, params.Email, params.DisplayName, params.Role, params.Division,
		params.Department, params.IsActive, params.IsLeader, params.ImageURL, settings,
	))
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// Search runs a trigram similarity search against display_name, used only as a local fallback;
// the primary search path delegates to the IdP.
func (r *PGRepository) Search(ctx context.Context, query string, limit int) ([]*User, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM users
		 WHERE display_name ILIKE '%' || $1 || '%' OR similarity(display_name, $1) > 0.2
		 ORDER BY similarity(display_name, $1) DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var results []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}
