package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/getpup/medallion"
)

// AcquireClaim stores the claim unless another owner holds the key with a claim newer than staleBefore.
func (s *Store) AcquireClaim(ctx context.Context, claim medallion.Claim, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.claims[claim.ClaimKey]; ok && held.Owner != claim.Owner && !held.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	s.claims[claim.ClaimKey] = claim
	return true, nil
}

// ReleaseClaim deletes the claim if it is still held by owner.
func (s *Store) ReleaseClaim(ctx context.Context, key medallion.ClaimKey, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.claims[key]; ok && held.Owner == owner {
		delete(s.claims, key)
	}
	return nil
}

// UnitOpen reports whether the tracker row exists and is not processed.
func (s *Store) UnitOpen(ctx context.Context, layer medallion.Layer, rowID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch layer {
	case medallion.LayerLanding:
		for _, row := range s.landingUnits {
			if row.ID == rowID {
				return !row.IsProcessed, nil
			}
		}
	case medallion.LayerBronze:
		for _, row := range s.bronzeUnits {
			if row.ID == rowID {
				return !row.IsProcessed, nil
			}
		}
	default:
		return false, fmt.Errorf("%w: layer %q has no tracker rows", medallion.ErrInvalidArgument, layer)
	}
	return false, nil
}
