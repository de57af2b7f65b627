// Package identity maintains the local shadow of identity-provider user records: the
// UserReflector component.
package identity

import (
	"context"
	"encoding/json"
	"time"
)

// User is the local reflection of an IdP user record.
type User struct {
	TMSUserID    string
	Email        string
	DisplayName  string
	Role         string
	Division     string
	Department   string
	IsActive     bool
	IsLeader     bool
	ImageURL     *string
	LastSyncedAt time.Time
	Settings     json.RawMessage
}

// PrincipalHint carries the claims available from a validated bearer token, used to synthesize a
// local record when the IdP cannot be reached and no local record exists yet.
type PrincipalHint struct {
	UserID      string
	Email       string
	DisplayName string
	Role        string
}

// UpsertParams groups the fields written on sync. Field names accept both camelCase and
// snake_case on the wire (see IdPClient), normalized to this struct before reaching the
// repository.
type UpsertParams struct {
	TMSUserID  string
	Email      string
	DisplayName string
	Role       string
	Division   string
	Department string
	IsActive   bool
	IsLeader   bool
	ImageURL   *string
	Settings   json.RawMessage
	// ForceStale requests last_synced_at be backdated rather than set to now(), used when
	// synthesizing a record from a principal hint so the next EnsureFresh call retries the real
	// IdP sync.
	ForceStale bool
}

// Repository is the storage contract for reflected user records.
type Repository interface {
	GetByID(ctx context.Context, userID string) (*User, error)
	Upsert(ctx context.Context, params UpsertParams) (*User, error)
	Search(ctx context.Context, query string, limit int) ([]*User, error)
}

// Cache is the optional external cache contract; implementations must degrade to no-op when the
// backing cache is unreachable rather than fail the request.
type Cache interface {
	Get(ctx context.Context, userID string) (*User, bool)
	Set(ctx context.Context, u *User, ttl time.Duration)
}

// IdPClient fetches and searches user records from the identity provider.
type IdPClient interface {
	GetUser(ctx context.Context, userID string) (*UpsertParams, error)
	SearchUsers(ctx context.Context, query string) ([]*UpsertParams, error)
}
