//go:build integration

package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/store"
	"github.com/getpup/medallion/store/sqlstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openStore returns a migrated store. It uses DATABASE_URL and DATABASE_DIALECT when set,
// otherwise a SQLite database in a temporary directory.
func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()

	dialect := sqlstore.SQLite
	dsn := os.Getenv("DATABASE_URL")
	if dsn != "" {
		var err error
		dialect, err = sqlstore.ParseDialect(os.Getenv("DATABASE_DIALECT"))
		require.NoError(t, err, "DATABASE_DIALECT must name the driver of DATABASE_URL")
	} else {
		path := filepath.Join(t.TempDir(), "medallion.db")
		dsn = "file:" + path + "?_foreign_keys=on&_busy_timeout=10000&_txlock=immediate"
	}

	db, err := sqlstore.Open(ctx, dialect, dsn, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := sqlstore.New(db, dialect)
	require.NoError(t, err)

	for _, stmt := range sqlstore.MigrationDown(dialect, s.Tables()) {
		_, _ = db.ExecContext(ctx, stmt)
	}
	require.NoError(t, s.Migrate(ctx))
	return s
}

type fixture struct {
	workspaceID  int64
	lakehouseID  int64
	dataSourceID int64
	landingID    int64
	bronzeID     int64
	silverID     int64

	workspaceExt uuid.UUID
	lakehouseExt uuid.UUID
}

func seed(t *testing.T, s *sqlstore.Store) fixture {
	t.Helper()
	ctx := context.Background()

	f := fixture{workspaceExt: uuid.New(), lakehouseExt: uuid.New()}
	var err error

	f.workspaceID, err = s.UpsertWorkspace(ctx, medallion.Workspace{ExternalID: f.workspaceExt, Name: "ws", IsActive: true})
	require.NoError(t, err)
	f.lakehouseID, err = s.UpsertLakehouse(ctx, medallion.Lakehouse{ExternalID: f.lakehouseExt, WorkspaceID: f.workspaceID, Name: "lh", IsActive: true})
	require.NoError(t, err)
	connID, err := s.UpsertConnection(ctx, medallion.Connection{ExternalID: uuid.New(), Name: "erp", Type: "SqlServer", IsActive: true})
	require.NoError(t, err)
	f.dataSourceID, err = s.UpsertDataSource(ctx, medallion.DataSource{ExternalID: uuid.New(), ConnectionID: connID, Name: "erp", Namespace: "erp", Type: "ASQL", IsActive: true})
	require.NoError(t, err)

	f.landingID, err = s.UpsertLandingzoneEntity(ctx, medallion.LandingzoneEntity{
		DataSourceID: f.dataSourceID, LakehouseID: f.lakehouseID,
		SourceSchema: "dbo", SourceName: "Orders",
		FilePath: "erp/orders", FileName: "orders", FileType: "parquet",
		IsIncremental: true, IncrementalColumn: "ModifiedAt", IsActive: true,
	})
	require.NoError(t, err)
	f.bronzeID, err = s.UpsertBronzeLayerEntity(ctx, medallion.BronzeLayerEntity{
		LandingzoneEntityID: f.landingID, LakehouseID: f.lakehouseID,
		Schema: "erp", Name: "orders", PrimaryKeys: "OrderId", FileType: "delta", IsActive: true,
	})
	require.NoError(t, err)
	f.silverID, err = s.UpsertSilverLayerEntity(ctx, medallion.SilverLayerEntity{
		BronzeLayerEntityID: f.bronzeID, LakehouseID: f.lakehouseID,
		Schema: "erp", Name: "orders", FileType: "delta", IsActive: true,
	})
	require.NoError(t, err)
	return f
}

func TestCatalog(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	f := seed(t, s)

	t.Run("upsert keeps the surrogate id", func(t *testing.T) {
		id, err := s.UpsertWorkspace(ctx, medallion.Workspace{ExternalID: f.workspaceExt, Name: "renamed", IsActive: true})
		require.NoError(t, err)
		assert.Equal(t, f.workspaceID, id)

		ws, err := s.GetWorkspace(ctx, f.workspaceExt)
		require.NoError(t, err)
		assert.Equal(t, "renamed", ws.Name)
		assert.Equal(t, f.workspaceExt, ws.ExternalID)
	})

	t.Run("missing parent is a constraint error", func(t *testing.T) {
		_, err := s.UpsertLakehouse(ctx, medallion.Lakehouse{ExternalID: uuid.New(), WorkspaceID: 9999, Name: "orphan"})
		assert.True(t, medallion.IsConstraint(err))
	})

	t.Run("unknown external id", func(t *testing.T) {
		_, err := s.GetDataSource(ctx, uuid.New())
		assert.ErrorIs(t, err, medallion.ErrNotFound)

		err = s.SetCatalogActive(ctx, store.CatalogConnection, uuid.New(), false)
		assert.ErrorIs(t, err, medallion.ErrNotFound)
	})

	t.Run("deactivate", func(t *testing.T) {
		require.NoError(t, s.SetCatalogActive(ctx, store.CatalogLakehouse, f.lakehouseExt, false))
		lh, err := s.GetLakehouse(ctx, f.lakehouseExt)
		require.NoError(t, err)
		assert.False(t, lh.IsActive)
		assert.Equal(t, f.workspaceID, lh.WorkspaceID)
	})
}

func TestEntities(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	f := seed(t, s)

	id, err := s.LandingzoneEntityID(ctx, "dbo", "Orders", f.dataSourceID)
	require.NoError(t, err)
	assert.Equal(t, f.landingID, id)

	id, err = s.SilverLayerEntityID(ctx, f.lakehouseID, "erp", "missing")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = s.UpsertSilverLayerEntity(ctx, medallion.SilverLayerEntity{BronzeLayerEntityID: 9999, LakehouseID: f.lakehouseID, Schema: "x", Name: "y"})
	assert.True(t, medallion.IsConstraint(err))

	e, err := s.GetLandingzoneEntity(ctx, f.landingID)
	require.NoError(t, err)
	assert.Equal(t, "ModifiedAt", e.IncrementalColumn)
	assert.True(t, e.IsIncremental)

	_, err = s.GetBronzeLayerEntity(ctx, 9999)
	assert.ErrorIs(t, err, medallion.ErrNotFound)

	require.NoError(t, s.SetEntityActive(ctx, medallion.LayerLanding, f.landingID, false))
	active, err := s.ListLandingzoneEntities(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListLandingzoneEntities(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOpen_SQLiteForeignKeysWithBareDSN(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "bare.db")

	db, err := sqlstore.Open(ctx, sqlstore.SQLite, dsn, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := sqlstore.New(db, sqlstore.SQLite)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	_, err = s.UpsertDataSource(ctx, medallion.DataSource{ExternalID: uuid.New(), ConnectionID: 9999, Name: "erp", Namespace: "erp", Type: "ASQL"})
	assert.True(t, medallion.IsConstraint(err), "data source with missing connection: %v", err)

	_, err = s.UpsertBronzeLayerEntity(ctx, medallion.BronzeLayerEntity{LandingzoneEntityID: 9999, LakehouseID: 9999, Schema: "erp", Name: "orders"})
	assert.True(t, medallion.IsConstraint(err), "bronze entity with missing landing entity: %v", err)
}

func TestOpen_SQLiteRejectsDisabledForeignKeys(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "off.db") + "?_foreign_keys=off"

	_, err := sqlstore.Open(context.Background(), sqlstore.SQLite, dsn, 1)
	require.Error(t, err)
	assert.True(t, sqlstore.Error.Has(err))
	assert.Contains(t, err.Error(), "foreign keys are disabled")
}

func TestLastLoadValue(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	f := seed(t, s)

	_, err := s.GetLastLoadValue(ctx, f.landingID)
	assert.ErrorIs(t, err, medallion.ErrNotFound)

	require.NoError(t, s.SetLastLoadValue(ctx, f.landingID, "2024-01-01", time.Now()))
	require.NoError(t, s.SetLastLoadValue(ctx, f.landingID, "2024-02-01", time.Now()))

	v, err := s.GetLastLoadValue(ctx, f.landingID)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", v.Value)

	err = s.SetLastLoadValue(ctx, 9999, "x", time.Now())
	assert.True(t, medallion.IsConstraint(err))
}

func TestTracker_StateMachine(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	f := seed(t, s)
	unit := medallion.LandingUnit{FilePath: "erp/orders/2024", FileName: "orders_1.parquet"}

	row, created, err := s.RegisterLandingUnit(ctx, f.landingID, unit, time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, row.IsProcessed)

	again, created, err := s.RegisterLandingUnit(ctx, f.landingID, unit, time.Now())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, row.ID, again.ID)

	done, err := s.CompleteLandingUnit(ctx, f.landingID, unit, time.Now())
	require.NoError(t, err)
	assert.Equal(t, row.ID, done.ID)
	assert.True(t, done.IsProcessed)
	require.NotNil(t, done.LoadEndDateTime)

	// A processed unit may be registered again as a new open row.
	next, created, err := s.RegisterLandingUnit(ctx, f.landingID, unit, time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, row.ID, next.ID)

	rows, err := s.ListLandingUnits(ctx, f.landingID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].IsProcessed)
	assert.False(t, rows[1].IsProcessed)

	seen, err := s.LandingUnitSeen(ctx, f.landingID, medallion.LandingUnit{FilePath: "erp/orders/2024", FileName: "other.parquet"})
	require.NoError(t, err)
	assert.False(t, seen)

	b, err := s.CompleteBronzeUnit(ctx, f.bronzeID, medallion.BronzeUnit{Schema: "erp", Table: "orders"}, time.Now())
	require.NoError(t, err)
	assert.True(t, b.IsProcessed)
}

func TestTracker_ConcurrentRegister(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	f := seed(t, s)
	unit := medallion.BronzeUnit{Schema: "erp", Table: "orders"}

	var wg sync.WaitGroup
	var createdCount int32
	ids := make(chan int64, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, created, err := s.RegisterBronzeUnit(ctx, f.bronzeID, unit, time.Now())
			if !assert.NoError(t, err) {
				return
			}
			if created {
				atomic.AddInt32(&createdCount, 1)
			}
			ids <- row.ID
		}()
	}
	wg.Wait()
	close(ids)

	assert.Equal(t, int32(1), createdCount)
	var first int64
	for id := range ids {
		if first == 0 {
			first = id
		}
		assert.Equal(t, first, id)
	}

	rows, err := s.ListBronzeUnits(ctx, f.bronzeID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestViews(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	f := seed(t, s)

	landing, err := s.ReadyForLandingExtraction(ctx)
	require.NoError(t, err)
	require.Len(t, landing, 1)
	assert.False(t, landing[0].HasLastLoadValue)
	assert.Equal(t, f.lakehouseExt, landing[0].TargetLakehouseID)
	assert.Equal(t, f.workspaceExt, landing[0].TargetWorkspaceID)
	assert.Equal(t, "ASQL", landing[0].DataSourceType)

	require.NoError(t, s.SetLastLoadValue(ctx, f.landingID, "2024-05-01", time.Now()))
	landing, err = s.ReadyForLandingExtraction(ctx)
	require.NoError(t, err)
	require.Len(t, landing, 1)
	assert.True(t, landing[0].HasLastLoadValue)
	assert.Equal(t, "2024-05-01", landing[0].LastLoadValue)

	unit := medallion.LandingUnit{FilePath: "erp/orders/2024", FileName: "orders_1.parquet"}
	_, _, err = s.RegisterLandingUnit(ctx, f.landingID, unit, time.Now())
	require.NoError(t, err)

	bronze, err := s.ReadyForBronzeLoad(ctx)
	require.NoError(t, err)
	require.Len(t, bronze, 1)
	assert.Equal(t, f.bronzeID, bronze[0].BronzeLayerEntityID)
	assert.Equal(t, "orders_1.parquet", bronze[0].SourceFileName)
	assert.Equal(t, "OrderId", bronze[0].PrimaryKeys)

	_, err = s.CompleteLandingUnit(ctx, f.landingID, unit, time.Now())
	require.NoError(t, err)
	bronze, err = s.ReadyForBronzeLoad(ctx)
	require.NoError(t, err)
	assert.Empty(t, bronze)

	_, _, err = s.RegisterBronzeUnit(ctx, f.bronzeID, medallion.BronzeUnit{Schema: "erp", Table: "orders"}, time.Now())
	require.NoError(t, err)
	silver, err := s.ReadyForSilverLoad(ctx)
	require.NoError(t, err)
	require.Len(t, silver, 1)
	assert.Equal(t, f.silverID, silver[0].SilverLayerEntityID)
	assert.Equal(t, "orders", silver[0].SourceName)

	require.NoError(t, s.SetEntityActive(ctx, medallion.LayerSilver, f.silverID, false))
	silver, err = s.ReadyForSilverLoad(ctx)
	require.NoError(t, err)
	assert.Empty(t, silver)
}

func TestViews_SkipInactiveLakehouseOrWorkspace(t *testing.T) {
	for _, kind := range []store.CatalogKind{store.CatalogLakehouse, store.CatalogWorkspace} {
		t.Run(string(kind), func(t *testing.T) {
			s := openStore(t)
			ctx := context.Background()
			f := seed(t, s)

			_, _, err := s.RegisterLandingUnit(ctx, f.landingID, medallion.LandingUnit{FilePath: "erp/orders", FileName: "orders_1.parquet"}, time.Now())
			require.NoError(t, err)
			_, _, err = s.RegisterBronzeUnit(ctx, f.bronzeID, medallion.BronzeUnit{Schema: "erp", Table: "orders"}, time.Now())
			require.NoError(t, err)

			ext := f.lakehouseExt
			if kind == store.CatalogWorkspace {
				ext = f.workspaceExt
			}
			require.NoError(t, s.SetCatalogActive(ctx, kind, ext, false))

			landing, err := s.ReadyForLandingExtraction(ctx)
			require.NoError(t, err)
			assert.Empty(t, landing)

			bronze, err := s.ReadyForBronzeLoad(ctx)
			require.NoError(t, err)
			assert.Empty(t, bronze)

			silver, err := s.ReadyForSilverLoad(ctx)
			require.NoError(t, err)
			assert.Empty(t, silver)
		})
	}
}

func TestClaims(t *testing.T) {
	s := openStore(t)
	f := seed(t, s)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	key := medallion.ClaimKey{Layer: medallion.LayerBronze, EntityID: f.bronzeID, UnitRowID: 1}
	claim := func(owner string, at time.Time) bool {
		ok, err := s.AcquireClaim(ctx, medallion.Claim{ClaimKey: key, Owner: owner, ClaimedAt: at}, at.Add(-time.Hour))
		require.NoError(t, err)
		return ok
	}

	assert.True(t, claim("a", now))
	assert.False(t, claim("b", now.Add(time.Minute)))
	assert.True(t, claim("a", now.Add(time.Minute)), "the owner may renew its claim")

	require.NoError(t, s.ReleaseClaim(ctx, key, "b"))
	assert.False(t, claim("b", now.Add(2*time.Minute)))

	assert.True(t, claim("b", now.Add(2*time.Hour)), "a stale claim is taken over")

	require.NoError(t, s.ReleaseClaim(ctx, key, "b"))
	assert.True(t, claim("c", now.Add(2*time.Hour)))

	t.Run("concurrent claimers", func(t *testing.T) {
		key := medallion.ClaimKey{Layer: medallion.LayerLanding, EntityID: f.landingID}
		var won int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.AcquireClaim(ctx, medallion.Claim{ClaimKey: key, Owner: uuid.NewString(), ClaimedAt: now}, now.Add(-time.Hour))
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&won, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), won)
	})

	t.Run("unit open", func(t *testing.T) {
		row, _, err := s.RegisterLandingUnit(ctx, f.landingID, medallion.LandingUnit{FilePath: "claims", FileName: "a.parquet"}, now)
		require.NoError(t, err)

		open, err := s.UnitOpen(ctx, medallion.LayerLanding, row.ID)
		require.NoError(t, err)
		assert.True(t, open)

		_, err = s.CompleteLandingUnit(ctx, f.landingID, row.Unit, now)
		require.NoError(t, err)
		open, err = s.UnitOpen(ctx, medallion.LayerLanding, row.ID)
		require.NoError(t, err)
		assert.False(t, open)

		_, err = s.UnitOpen(ctx, medallion.LayerSilver, row.ID)
		assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
	})
}

func TestAudit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	run := uuid.New()

	for _, lt := range []medallion.LogType{medallion.LogTypeStart, medallion.LogTypeEnd} {
		_, err := s.AppendAuditEvent(ctx, medallion.AuditEvent{
			Kind: medallion.AuditKindNotebook, PipelineRunGUID: run, ObjectName: "nb_load_bronze",
			Layer: medallion.LayerBronze, LogType: lt, LogData: `{"rows":10}`,
		})
		require.NoError(t, err)
	}
	_, err := s.AppendAuditEvent(ctx, medallion.AuditEvent{Kind: medallion.AuditKindNotebook, PipelineRunGUID: uuid.New(), LogType: medallion.LogTypeFail})
	require.NoError(t, err)

	events, err := s.ListAuditEvents(ctx, medallion.AuditKindNotebook, run)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, medallion.LogTypeStart, events[0].LogType)
	assert.Equal(t, medallion.LogTypeEnd, events[1].LogType)
	assert.True(t, events[0].TriggerTime.IsZero())

	all, err := s.ListAuditEvents(ctx, medallion.AuditKindNotebook, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = s.AppendAuditEvent(ctx, medallion.AuditEvent{Kind: medallion.AuditKindPipeline, LogType: "Done"})
	assert.ErrorIs(t, err, medallion.ErrInvalidArgument)
}

func TestTransfer(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e, err := s.AppendMigrationLog(ctx, medallion.MigrationLogEntry{Phase: "EXPORT", Operation: "CETAS", Status: medallion.MigrationStatusSuccess})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), e.ExecutionSequence)
	}
	e, err := s.AppendMigrationLog(ctx, medallion.MigrationLogEntry{Phase: "IMPORT", Operation: "COPY", Status: medallion.MigrationStatusStarted})
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.ExecutionSequence)

	log, err := s.ListMigrationLog(ctx, "EXPORT", "")
	require.NoError(t, err)
	assert.Len(t, log, 3)

	_, err = s.AppendValidation(ctx, medallion.DataLoadValidation{SchemaName: "dbo", TableName: "Orders", SourceCount: 10, TargetCount: 10, Status: medallion.ValidationPass})
	require.NoError(t, err)
	validations, err := s.ListValidations(ctx)
	require.NoError(t, err)
	require.Len(t, validations, 1)
	assert.Equal(t, medallion.ValidationPass, validations[0].Status)

	_, err = s.AppendTableSize(ctx, medallion.TableSizeAnalysis{SchemaName: "dbo", TableName: "Orders", SizeMB: 12000, SizeGB: 11.72, RecommendCompression: true, RecommendPartitioning: true})
	require.NoError(t, err)
	sizes, err := s.ListTableSizes(ctx)
	require.NoError(t, err)
	require.Len(t, sizes, 1)
	assert.True(t, sizes[0].RecommendPartitioning)
}

