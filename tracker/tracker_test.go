package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store/memory"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	landingID int64
	bronzeID  int64
}

func seed(t *testing.T, s *memory.Store) fixture {
	t.Helper()
	ctx := context.Background()

	wsID, err := s.UpsertWorkspace(ctx, medallion.Workspace{ExternalID: uuid.New(), Name: "ws", IsActive: true})
	require.NoError(t, err)
	lhID, err := s.UpsertLakehouse(ctx, medallion.Lakehouse{ExternalID: uuid.New(), WorkspaceID: wsID, Name: "lh", IsActive: true})
	require.NoError(t, err)
	connID, err := s.UpsertConnection(ctx, medallion.Connection{ExternalID: uuid.New(), Name: "c", IsActive: true})
	require.NoError(t, err)
	dsID, err := s.UpsertDataSource(ctx, medallion.DataSource{ExternalID: uuid.New(), ConnectionID: connID, Name: "ds", Namespace: "erp", IsActive: true})
	require.NoError(t, err)

	var f fixture
	f.landingID, err = s.UpsertLandingzoneEntity(ctx, medallion.LandingzoneEntity{
		DataSourceID: dsID, LakehouseID: lhID, SourceSchema: "dbo", SourceName: "Orders", FileName: "orders", IsActive: true,
	})
	require.NoError(t, err)
	f.bronzeID, err = s.UpsertBronzeLayerEntity(ctx, medallion.BronzeLayerEntity{
		LandingzoneEntityID: f.landingID, LakehouseID: lhID, Schema: "erp", Name: "orders", IsActive: true,
	})
	require.NoError(t, err)
	_, err = s.UpsertSilverLayerEntity(ctx, medallion.SilverLayerEntity{
		BronzeLayerEntityID: f.bronzeID, LakehouseID: lhID, Schema: "erp", Name: "orders", IsActive: true,
	})
	require.NoError(t, err)
	return f
}

func newTracker(t *testing.T, s *memory.Store) *Tracker {
	return New(Config{Store: s, Logger: zaptest.NewLogger(t)})
}

var file = medallion.LandingUnit{FilePath: "erp/orders/2024/03/01", FileName: "orders_001.parquet"}

func TestRegisterIsIdempotentWhileOpen(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	tr := newTracker(t, s)
	ctx := context.Background()

	first, err := tr.RegisterOrUpdateLanding(ctx, f.landingID, file, false)
	require.NoError(t, err)
	second, err := tr.RegisterOrUpdateLanding(ctx, f.landingID, file, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, second.IsProcessed)

	rows, err := tr.LandingUnits(ctx, f.landingID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCompleteFlipsOpenRow(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	now := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	tr := New(Config{Store: s, Now: func() time.Time { return now }})
	ctx := context.Background()

	reg, err := tr.RegisterOrUpdateLanding(ctx, f.landingID, file, false)
	require.NoError(t, err)

	done, err := tr.RegisterOrUpdateLanding(ctx, f.landingID, file, true)
	require.NoError(t, err)
	assert.Equal(t, reg.ID, done.ID)
	assert.True(t, done.IsProcessed)
	require.NotNil(t, done.LoadEndDateTime)
	assert.Equal(t, now, *done.LoadEndDateTime)

	rows, err := tr.LandingUnits(ctx, f.landingID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestCompleteWithoutOpenRowInsertsProcessed(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	tr := newTracker(t, s)
	ctx := context.Background()

	unit := medallion.BronzeUnit{Schema: "erp", Table: "orders"}
	row, err := tr.RegisterOrUpdateBronze(ctx, f.bronzeID, unit, true)
	require.NoError(t, err)
	assert.True(t, row.IsProcessed)

	rows, err := tr.BronzeUnits(ctx, f.bronzeID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestProcessedUnitLeavesDispatchView(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	tr := newTracker(t, s)
	ctx := context.Background()

	_, err := tr.RegisterOrUpdateLanding(ctx, f.landingID, file, false)
	require.NoError(t, err)

	ready, err := s.ReadyForBronzeLoad(ctx)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, file.FileName, ready[0].SourceFileName)

	_, err = tr.RegisterOrUpdateLanding(ctx, f.landingID, file, true)
	require.NoError(t, err)

	ready, err = s.ReadyForBronzeLoad(ctx)
	require.NoError(t, err)
	assert.Empty(t, ready)
}

func TestRegisterAfterProcessedStartsNewCycle(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	tr := newTracker(t, s)
	ctx := context.Background()

	unit := medallion.BronzeUnit{Schema: "erp", Table: "orders"}
	first, err := tr.RegisterOrUpdateBronze(ctx, f.bronzeID, unit, false)
	require.NoError(t, err)
	_, err = tr.RegisterOrUpdateBronze(ctx, f.bronzeID, unit, true)
	require.NoError(t, err)

	second, err := tr.RegisterOrUpdateBronze(ctx, f.bronzeID, unit, false)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, second.IsProcessed)
}

func TestRegisterLandingIfUnseen(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	tr := newTracker(t, s)
	ctx := context.Background()

	created, err := tr.RegisterLandingIfUnseen(ctx, f.landingID, file)
	require.NoError(t, err)
	assert.True(t, created)

	_, err = tr.RegisterOrUpdateLanding(ctx, f.landingID, file, true)
	require.NoError(t, err)

	created, err = tr.RegisterLandingIfUnseen(ctx, f.landingID, file)
	require.NoError(t, err)
	assert.False(t, created)

	seen, err := tr.LandingSeen(ctx, f.landingID, file)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestConcurrentRegisterCreatesOneRow(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	env := "tracker-concurrency"
	tr := New(Config{Store: s, Metrics: metrics.NewCollector(env)})
	ctx := context.Background()

	const workers = 32
	var wg sync.WaitGroup
	ids := make([]int64, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row, err := tr.RegisterOrUpdateLanding(ctx, f.landingID, file, false)
			ids[i], errs[i] = row.ID, err
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	rows, err := tr.LandingUnits(ctx, f.landingID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TrackerRegistrationsTotal.WithLabelValues(env, "landing")))
	assert.Zero(t, tr.locks.size())
}

func TestValidation(t *testing.T) {
	tr := newTracker(t, memory.New())
	ctx := context.Background()

	_, err := tr.RegisterOrUpdateLanding(ctx, 0, file, false)
	assert.True(t, errors.Is(err, medallion.ErrInvalidArgument))

	_, err = tr.RegisterOrUpdateLanding(ctx, 1, medallion.LandingUnit{FilePath: "x"}, false)
	assert.True(t, errors.Is(err, medallion.ErrInvalidArgument))

	_, err = tr.RegisterOrUpdateBronze(ctx, 1, medallion.BronzeUnit{Schema: "erp"}, false)
	assert.True(t, errors.Is(err, medallion.ErrInvalidArgument))
}

func TestUnknownEntityIsConstraintError(t *testing.T) {
	tr := newTracker(t, memory.New())

	_, err := tr.RegisterOrUpdateLanding(context.Background(), 99, file, false)
	assert.True(t, medallion.IsConstraint(err))
}

func TestLockHonorsContext(t *testing.T) {
	locks := newEntityLocks()
	key := lockKey{medallion.LayerLanding, 1}

	unlock, err := locks.lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, locks.size())

	unlock()
	assert.Zero(t, locks.size())

	other, err := locks.lock(context.Background(), lockKey{medallion.LayerBronze, 1})
	require.NoError(t, err)
	other()
}

func TestClaimIsExclusiveUntilReleased(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	tr := newTracker(t, s)
	ctx := context.Background()

	key := medallion.ClaimKey{Layer: medallion.LayerBronze, EntityID: f.bronzeID, UnitRowID: 7}

	ok, err := tr.Claim(ctx, key, "worker-a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tr.Claim(ctx, key, "worker-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	other := medallion.ClaimKey{Layer: medallion.LayerBronze, EntityID: f.bronzeID, UnitRowID: 8}
	ok, err = tr.Claim(ctx, other, "worker-b", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok, "claims are per consumed row")

	require.NoError(t, tr.Release(ctx, key, "worker-b"))
	ok, err = tr.Claim(ctx, key, "worker-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "only the owner releases a claim")

	require.NoError(t, tr.Release(ctx, key, "worker-a"))
	ok, err = tr.Claim(ctx, key, "worker-b", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStaleClaimIsTakenOver(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	tr := New(Config{Store: s, Now: func() time.Time { return now }})
	ctx := context.Background()

	key := medallion.ClaimKey{Layer: medallion.LayerLanding, EntityID: f.landingID}
	ok, err := tr.Claim(ctx, key, "crashed", 10*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(5 * time.Minute)
	ok, err = tr.Claim(ctx, key, "worker", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	now = now.Add(6 * time.Minute)
	ok, err = tr.Claim(ctx, key, "worker", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	tr := newTracker(t, s)
	ctx := context.Background()
	key := medallion.ClaimKey{Layer: medallion.LayerLanding, EntityID: f.landingID}

	const workers = 16
	var wg sync.WaitGroup
	won := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := tr.Claim(ctx, key, uuid.NewString(), time.Hour)
			assert.NoError(t, err)
			won[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range won {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestClaimValidation(t *testing.T) {
	tr := newTracker(t, memory.New())
	ctx := context.Background()
	key := medallion.ClaimKey{Layer: medallion.LayerLanding, EntityID: 1}

	_, err := tr.Claim(ctx, medallion.ClaimKey{Layer: medallion.LayerLanding}, "w", time.Hour)
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
	_, err = tr.Claim(ctx, key, "", time.Hour)
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
	_, err = tr.Claim(ctx, key, "w", 0)
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
}

func TestUnitOpen(t *testing.T) {
	s := memory.New()
	f := seed(t, s)
	tr := newTracker(t, s)
	ctx := context.Background()

	row, err := tr.RegisterOrUpdateLanding(ctx, f.landingID, file, false)
	require.NoError(t, err)

	open, err := tr.UnitOpen(ctx, medallion.LayerLanding, row.ID)
	require.NoError(t, err)
	assert.True(t, open)

	_, err = tr.RegisterOrUpdateLanding(ctx, f.landingID, file, true)
	require.NoError(t, err)
	open, err = tr.UnitOpen(ctx, medallion.LayerLanding, row.ID)
	require.NoError(t, err)
	assert.False(t, open)

	open, err = tr.UnitOpen(ctx, medallion.LayerBronze, 404)
	require.NoError(t, err)
	assert.False(t, open)

	_, err = tr.UnitOpen(ctx, medallion.LayerSilver, row.ID)
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
}
