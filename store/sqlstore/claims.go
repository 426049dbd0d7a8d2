package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/getpup/medallion"
	"github.com/jmoiron/sqlx"
)

// AcquireClaim inserts the claim unless another owner holds the key. A stale claim, or one
// already held by the same owner, is replaced in the same transaction. The unique index on
// the key decides between concurrent claimers.
func (s *Store) AcquireClaim(ctx context.Context, claim medallion.Claim, staleBefore time.Time) (bool, error) {
	at, staleBefore := utc(claim.ClaimedAt), utc(staleBefore)

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		release := tx.Rebind(fmt.Sprintf(`
			DELETE FROM %s
			WHERE layer = ? AND entity_id = ? AND unit_row_id = ? AND (claimed_at < ? OR owner = ?)
		`, s.tables.DispatchClaim))
		if _, err := tx.ExecContext(ctx, release, string(claim.Layer), claim.EntityID, claim.UnitRowID, staleBefore, claim.Owner); err != nil {
			return err
		}

		_, err := s.insert(ctx, tx, s.tables.DispatchClaim,
			[]string{"layer", "entity_id", "unit_row_id", "owner", "claimed_at"},
			string(claim.Layer), claim.EntityID, claim.UnitRowID, claim.Owner, at)
		return err
	})
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, classify("acquire claim", err)
	}
	return true, nil
}

// ReleaseClaim deletes the claim if it is still held by owner.
func (s *Store) ReleaseClaim(ctx context.Context, key medallion.ClaimKey, owner string) error {
	query := s.db.Rebind(fmt.Sprintf(`
		DELETE FROM %s WHERE layer = ? AND entity_id = ? AND unit_row_id = ? AND owner = ?
	`, s.tables.DispatchClaim))

	if _, err := s.db.ExecContext(ctx, query, string(key.Layer), key.EntityID, key.UnitRowID, owner); err != nil {
		return classify("release claim", err)
	}
	return nil
}

// UnitOpen reports whether the tracker row exists and is not processed.
// Landing rows are consumed by bronze work and bronze rows by silver work.
func (s *Store) UnitOpen(ctx context.Context, layer medallion.Layer, rowID int64) (bool, error) {
	var t unitTable
	switch layer {
	case medallion.LayerLanding:
		t = s.landingUnitTable()
	case medallion.LayerBronze:
		t = s.bronzeUnitTable()
	default:
		return false, fmt.Errorf("%w: layer %q has no tracker rows", medallion.ErrInvalidArgument, layer)
	}

	query := s.db.Rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = ? AND is_processed = ?", t.name))

	var n int64
	if err := sqlx.GetContext(ctx, s.db, &n, query, rowID, false); err != nil {
		return false, classify("check unit", err)
	}
	return n > 0, nil
}
