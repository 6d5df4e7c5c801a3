package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/notelith/notelith/pkg/graph"
	"github.com/notelith/notelith/pkg/types"
)

// SetGrant upserts an explicit permission grant for a user on a resource.
func (s *Store) SetGrant(ctx context.Context, userID, resourceID string, level types.PermissionLevel) error {
	const q = `
		INSERT INTO grants (user_id, resource_id, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, resource_id) DO UPDATE SET level = EXCLUDED.level`

	if !level.IsValid() {
		return fmt.Errorf("postgres store: set grant: invalid level %q", level)
	}
	if _, err := s.pool.Exec(ctx, q, userID, resourceID, level); err != nil {
		return fmt.Errorf("postgres store: set grant: %w", err)
	}
	return nil
}

// RevokeGrant removes a user's explicit grant on a resource. Revoking a
// non-existent grant is not an error.
func (s *Store) RevokeGrant(ctx context.Context, userID, resourceID string) error {
	const q = `DELETE FROM grants WHERE user_id = $1 AND resource_id = $2`
	if _, err := s.pool.Exec(ctx, q, userID, resourceID); err != nil {
		return fmt.Errorf("postgres store: revoke grant: %w", err)
	}
	return nil
}

// HasPermission implements [graph.PermissionChecker].
//
// Ownership of the resource, or of any ancestor, implies every level.
// Otherwise the strongest explicit grant across the resource and its
// ancestors must cover the required level. The ancestor chain
// (note → folder → binder) is walked client-side; it is at most three hops.
func (s *Store) HasPermission(ctx context.Context, userID, resourceID string, level types.PermissionLevel) (bool, error) {
	for id := resourceID; id != ""; {
		res, err := s.GetResource(ctx, id)
		if err != nil {
			return false, fmt.Errorf("postgres store: has permission: %w", err)
		}
		if res == nil {
			return false, nil
		}
		if res.OwnerID == userID {
			return true, nil
		}

		held, err := s.grantLevel(ctx, userID, id)
		if err != nil {
			return false, err
		}
		if held != "" && held.Covers(level) {
			return true, nil
		}

		id = res.ParentID
	}
	return false, nil
}

// grantLevel returns the user's explicit grant level on the resource, or ""
// when no grant exists.
func (s *Store) grantLevel(ctx context.Context, userID, resourceID string) (types.PermissionLevel, error) {
	const q = `SELECT level FROM grants WHERE user_id = $1 AND resource_id = $2`

	var level string
	err := s.pool.QueryRow(ctx, q, userID, resourceID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: grant level: %w", err)
	}
	return types.PermissionLevel(level), nil
}

var _ graph.PermissionChecker = (*Store)(nil)
