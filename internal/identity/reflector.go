package identity

import (
	"context"
	"errors"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
)

const cacheTTL = 10 * time.Minute

// Reflector implements UserReflector: a read-through, staleness-bounded local shadow of IdP
// user records.
type Reflector struct {
	repo       Repository
	cache      Cache
	idp        IdPClient
	staleAfter time.Duration
	sanitizer  *bluemonday.Policy
	log        zerolog.Logger
}

// NewReflector builds a UserReflector. staleAfter is the default 24h staleness window.
func NewReflector(repo Repository, cache Cache, idp IdPClient, staleAfter time.Duration, logger zerolog.Logger) *Reflector {
	return &Reflector{
		repo:       repo,
		cache:      cache,
		idp:        idp,
		staleAfter: staleAfter,
		sanitizer:  bluemonday.StrictPolicy(),
		log:        logger,
	}
}

// GetLocalUser performs a fast lookup with no IdP interaction.
func (r *Reflector) GetLocalUser(ctx context.Context, userID string) (*User, error) {
	if r.cache != nil {
		if u, ok := r.cache.Get(ctx, userID); ok {
			return u, nil
		}
	}

	u, err := r.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, u, cacheTTL)
	}
	return u, nil
}

// EnsureFresh returns a User record, syncing from the IdP when absent or stale. It never
// propagates an IdP failure when a local record (or a principal hint) can stand in.
func (r *Reflector) EnsureFresh(ctx context.Context, userID string, hint *PrincipalHint) (*User, error) {
	local, err := r.repo.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if local != nil && time.Since(local.LastSyncedAt) <= r.staleAfter {
		return local, nil
	}

	fresh, idpErr := r.idp.GetUser(ctx, userID)
	if idpErr != nil {
		r.log.Warn().Err(idpErr).Str("user_id", userID).Msg("idp sync failed, deferring")

		if local != nil {
			return local, nil
		}
		if hint == nil {
			return nil, idpErr
		}
		return r.synthesizeFromHint(ctx, hint)
	}

	r.sanitize(fresh)
	u, err := r.repo.Upsert(ctx, *fresh)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, u, cacheTTL)
	}
	return u, nil
}

// synthesizeFromHint persists a minimal record from token claims so subsequent requests succeed,
// with last_synced_at left in the past so a later call retries the real sync.
func (r *Reflector) synthesizeFromHint(ctx context.Context, hint *PrincipalHint) (*User, error) {
	params := UpsertParams{
		TMSUserID:   hint.UserID,
		Email:       hint.Email,
		DisplayName: hint.DisplayName,
		Role:        hint.Role,
		IsActive:    true,
		ForceStale:  true,
	}
	r.sanitize(&params)
	return r.repo.Upsert(ctx, params)
}

// SearchUsers delegates to the IdP's own search endpoint, not the local store.
func (r *Reflector) SearchUsers(ctx context.Context, query string) ([]*User, error) {
	results, err := r.idp.SearchUsers(ctx, query)
	if err != nil {
		return nil, err
	}

	users := make([]*User, 0, len(results))
	for _, params := range results {
		r.sanitize(params)
		u, err := r.repo.Upsert(ctx, *params)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (r *Reflector) sanitize(params *UpsertParams) {
	params.DisplayName = r.sanitizer.Sanitize(params.DisplayName)
}
