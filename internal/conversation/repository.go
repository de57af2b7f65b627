package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aio-zber/tms-server/internal/postgres"
)

const selectColumns = "id, type, name, avatar_url, created_by, dm_key, created_at, updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed conversation repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

func dmKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var name *string
	err := row.Scan(&c.ID, &c.Type, &name, &c.AvatarURL, &c.CreatedBy, &c.DMKey, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	if name != nil {
		c.Name = *name
	}
	return &c, nil
}

// GetByID returns the conversation matching id.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM conversations WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation by id: %w", err)
	}
	return c, nil
}

// GetOrCreateDM returns the existing DM between userA and userB, or creates one. The unique
// partial index on dm_key makes this atomic under concurrent callers: the loser of a race inserts
// nothing (ON CONFLICT DO NOTHING returns no row) and re-queries the winner's row.
func (r *PGRepository) GetOrCreateDM(ctx context.Context, userA, userB string) (*Conversation, error) {
	key := dmKey(userA, userB)

	existing, err := scanConversation(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM conversations WHERE dm_key = $1`, key))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup dm by key: %w", err)
	}

	var created *Conversation
	err = postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		id := uuid.NewString()
		row := tx.QueryRow(ctx,
			`INSERT INTO conversations (id, type, name, created_by, dm_key)
			 VALUES ($1, $2, NULL, $3, $4)
			 ON CONFLICT (dm_key) WHERE dm_key IS NOT NULL DO NOTHING
			 RETURNING `+selectColumns,
			id, TypeDM, userA, key,
		)
		var insertErr error
		created, insertErr = scanConversation(row)
		if insertErr != nil {
			if errors.Is(insertErr, pgx.ErrNoRows) {
				return nil // lost the race; caller re-queries below
			}
			return fmt.Errorf("insert dm conversation: %w", insertErr)
		}

		for _, uid := range []string{userA, userB} {
			role := RoleMember
			if uid == userA {
				role = RoleAdmin
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO conversation_members (conversation_id, user_id, role) VALUES ($1, $2, $3)`,
				created.ID, uid, role,
			); err != nil {
				return fmt.Errorf("insert dm member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created != nil {
		return created, nil
	}

	// Lost the race to a concurrent creator; the winner's row is now visible.
	winner, err := scanConversation(r.db.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM conversations WHERE dm_key = $1`, key))
	if err != nil {
		return nil, fmt.Errorf("lookup dm after lost race: %w", err)
	}
	return winner, nil
}

// CreateGroup creates a GROUP conversation with CreatedBy as its sole ADMIN.
func (r *PGRepository) CreateGroup(ctx context.Context, params CreateGroupParams) (*Conversation, error) {
	var created *Conversation
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		id := uuid.NewString()
		row := tx.QueryRow(ctx,
			`INSERT INTO conversations (id, type, name, avatar_url, created_by, dm_key)
			 VALUES ($1, $2, $3, $4, $5, NULL)
			 RETURNING `+selectColumns,
			id, TypeGroup, params.Name, params.AvatarURL, params.CreatedBy,
		)
		var err error
		created, err = scanConversation(row)
		if err != nil {
			return fmt.Errorf("insert group conversation: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id, role) VALUES ($1, $2, $3)`,
			created.ID, params.CreatedBy, RoleAdmin,
		); err != nil {
			return fmt.Errorf("insert group creator membership: %w", err)
		}

		for _, uid := range params.MemberIDs {
			if uid == params.CreatedBy {
				continue
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO conversation_members (conversation_id, user_id, role) VALUES ($1, $2, $3)`,
				created.ID, uid, RoleMember,
			); err != nil {
				return fmt.Errorf("insert group member: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Rename updates a GROUP conversation's name. Callers must enforce the ADMIN-only rule
// before calling this.
func (r *PGRepository) Rename(ctx context.Context, id, name string) (*Conversation, error) {
	c, err := scanConversation(r.db.QueryRow(ctx,
		`UPDATE conversations SET name = $1, updated_at = now() WHERE id = $2 RETURNING `+selectColumns,
		name, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rename conversation: %w", err)
	}
	return c, nil
}

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.ConversationID, &m.UserID, &m.Role, &m.JoinedAt, &m.LastReadAt, &m.IsMuted, &m.MuteUntil)
	if err != nil {
		return nil, fmt.Errorf("scan member: %w", err)
	}
	return &m, nil
}

const memberColumns = "conversation_id, user_id, role, joined_at, last_read_at, is_muted, mute_until"

// ListMembers returns every member of a conversation.
func (r *PGRepository) ListMembers(ctx context.Context, conversationID string) ([]Member, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+memberColumns+` FROM conversation_members WHERE conversation_id = $1 ORDER BY joined_at`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// AddMember adds userID to conversationID as a MEMBER. Callers must enforce the ADMIN-only rule
// for GROUP conversations before calling this.
func (r *PGRepository) AddMember(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO conversation_members (conversation_id, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id, user_id) DO NOTHING`,
		conversationID, userID, RoleMember,
	)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember removes userID from conversationID. Leaving is always permitted; the caller
// decides whether this is a self-leave or an admin-initiated removal.
func (r *PGRepository) RemoveMember(ctx context.Context, conversationID, userID string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// GetMember returns the membership row for (conversationID, userID).
func (r *PGRepository) GetMember(ctx context.Context, conversationID, userID string) (*Member, error) {
	m, err := scanMember(r.db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

// IsMember reports whether userID belongs to conversationID. Required before any read, send, or
// edit.
func (r *PGRepository) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// IsAdmin reports whether userID is an ADMIN of conversationID.
func (r *PGRepository) IsAdmin(ctx context.Context, conversationID, userID string) (bool, error) {
	var role string
	err := r.db.QueryRow(ctx,
		`SELECT role FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check admin: %w", err)
	}
	return role == RoleAdmin, nil
}

// UpdateLastReadAt advances a member's read cursor.
func (r *PGRepository) UpdateLastReadAt(ctx context.Context, conversationID, userID string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE conversation_members SET last_read_at = $1 WHERE conversation_id = $2 AND user_id = $3`,
		at, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("update last read at: %w", err)
	}
	return nil
}

// ListForUser returns every conversation userID belongs to, most recently updated first.
func (r *PGRepository) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumnsPrefixed("c")+`
		 FROM conversations c
		 JOIN conversation_members m ON m.conversation_id = c.id
		 WHERE m.user_id = $1
		 ORDER BY c.updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations for user: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

func selectColumnsPrefixed(alias string) string {
	cols := strings.Split(selectColumns, ", ")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ", ")
}

// Search ranks conversations userID is a member of by a weighted blend of trigram similarity
// between query and the conversation name (0.6) and query and the concatenated display names of
// other members (0.4), with an exact-substring match overriding the blend to 1.0, dropping rows
// below SearchScoreThreshold and capping at SearchResultCap.
func (r *PGRepository) Search(ctx context.Context, userID, query string) ([]SearchResult, error) {
	const scoreExpr = `CASE
			WHEN mine.name ILIKE '%' || $2 || '%' OR COALESCE(other_names.names, '') ILIKE '%' || $2 || '%'
				THEN 1.0
			ELSE LEAST(1.0,
				0.6 * COALESCE(similarity(COALESCE(mine.name, ''), $2), 0) +
				0.4 * COALESCE(similarity(COALESCE(other_names.names, ''), $2), 0)
			)
		END`
	rows, err := r.db.Query(ctx,
		`WITH mine AS (
			SELECT `+selectColumnsPrefixed("c")+`
			FROM conversations c
			JOIN conversation_members m ON m.conversation_id = c.id
			WHERE m.user_id = $1
		), other_names AS (
			SELECT cm.conversation_id, string_agg(u.display_name, ' ') AS names
			FROM conversation_members cm
			JOIN users u ON u.tms_user_id = cm.user_id
			WHERE cm.user_id != $1
			GROUP BY cm.conversation_id
		)
		SELECT mine.id, mine.type, mine.name, mine.avatar_url, mine.created_by, mine.dm_key,
			mine.created_at, mine.updated_at,
			`+scoreExpr+` AS score
		FROM mine
		LEFT JOIN other_names ON other_names.conversation_id = mine.id
		WHERE `+scoreExpr+` >= $3
		ORDER BY score DESC
		LIMIT $4`,
		userID, query, SearchScoreThreshold, SearchResultCap,
	)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var sr SearchResult
		var name *string
		err := rows.Scan(&sr.ID, &sr.Type, &name, &sr.AvatarURL, &sr.CreatedBy, &sr.DMKey,
			&sr.CreatedAt, &sr.UpdatedAt, &sr.Score)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		if name != nil {
			sr.Name = *name
		}
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search results: %w", err)
	}
	return results, nil
}

// TouchUpdatedAt bumps a conversation's updated_at, called after a successful Send.
func (r *PGRepository) TouchUpdatedAt(ctx context.Context, conversationID string) error {
	_, err := r.db.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}
