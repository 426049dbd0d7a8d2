package transfer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// warehouse records executed batches and fails tables named in fail.
type warehouse struct {
	mu      sync.Mutex
	batches []string
	fail    map[string]error
	rows    int64
	delay   time.Duration

	running, peak int32
}

func (w *warehouse) Exec(ctx context.Context, batches ...string) (int64, error) {
	n := atomic.AddInt32(&w.running, 1)
	defer atomic.AddInt32(&w.running, -1)
	for {
		p := atomic.LoadInt32(&w.peak)
		if n <= p || atomic.CompareAndSwapInt32(&w.peak, p, n) {
			break
		}
	}
	time.Sleep(w.delay)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range batches {
		for table, err := range w.fail {
			if strings.Contains(b, table) {
				return 0, err
			}
		}
	}
	w.batches = append(w.batches, batches...)
	return w.rows, nil
}

type sourceColumns map[TableKey][]Column

func (c sourceColumns) Columns(ctx context.Context, schema, table string) ([]Column, error) {
	return c[TableKey{Schema: schema, Table: table}], nil
}

func tableKeys(names ...string) []TableKey {
	keys := make([]TableKey, 0, len(names))
	for _, n := range names {
		keys = append(keys, TableKey{Schema: "dbo", Table: n})
	}
	return keys
}

func TestRunBoundsWorkersAndLogsRows(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	db := &warehouse{rows: 42, delay: 5 * time.Millisecond}

	tables := tableKeys("A", "B", "C", "D", "E", "F", "G", "H")
	err := svc.Run(ctx, db, tables, Plan{
		Phase:     PhaseExtract,
		Operation: OperationCETAS,
		Workers:   2,
		Batches: func(ctx context.Context, k TableKey) ([]string, error) {
			return DefaultStaging().CETAS(k.Schema, k.Table), nil
		},
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&db.peak), int32(2))
	assert.Len(t, db.batches, 16)

	log, err := svc.Log(ctx, PhaseExtract, OperationCETAS)
	require.NoError(t, err)
	require.Len(t, log, 8)
	var names []string
	for _, e := range log {
		assert.Equal(t, medallion.MigrationStatusSuccess, e.Status)
		assert.Equal(t, int64(42), e.RowsProcessed)
		names = append(names, e.TableName)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F", "G", "H"}, names)
}

func TestRunAttemptsEveryTableBeforeFailing(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	broken := errors.New("external table already exists")
	db := &warehouse{fail: map[string]error{"[dbo].[B]": broken}}

	err := svc.Run(ctx, db, tableKeys("A", "B", "C"), Plan{
		Phase:     PhaseLoad,
		Operation: OperationCopyInto,
		Batches: func(ctx context.Context, k TableKey) ([]string, error) {
			return []string{DefaultStaging().CopyInto(k.Schema, k.Table)}, nil
		},
	})
	assert.ErrorIs(t, err, broken)
	assert.Len(t, db.batches, 2)

	log, err := svc.Log(ctx, PhaseLoad, OperationCopyInto)
	require.NoError(t, err)
	statuses := map[string]medallion.MigrationStatus{}
	for _, e := range log {
		statuses[e.TableName] = e.Status
	}
	assert.Equal(t, map[string]medallion.MigrationStatus{
		"A": medallion.MigrationStatusSuccess,
		"B": medallion.MigrationStatusFailed,
		"C": medallion.MigrationStatusSuccess,
	}, statuses)
}

func TestRunLogsBatchBuildFailure(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	db := &warehouse{}
	unreachable := errors.New("source unreachable")

	err := svc.Run(ctx, db, tableKeys("Orders"), Plan{
		Phase:     PhaseLoad,
		Operation: OperationCopyInto,
		Batches: func(ctx context.Context, k TableKey) ([]string, error) {
			return nil, unreachable
		},
	})
	assert.ErrorIs(t, err, unreachable)
	assert.Empty(t, db.batches)

	log, err := svc.Log(ctx, PhaseLoad, OperationCopyInto)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, medallion.MigrationStatusFailed, log[0].Status)
	assert.Equal(t, "source unreachable", log[0].ErrorMessage)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := &warehouse{}

	err := svc.Run(ctx, db, tableKeys("A", "B"), Plan{
		Phase:     PhaseLoad,
		Operation: OperationCopyInto,
		Batches: func(ctx context.Context, k TableKey) ([]string, error) {
			return []string{UpdateStatistics(k.Schema, k.Table)}, nil
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, db.batches)
}

func TestLoadBatches(t *testing.T) {
	ctx := context.Background()
	st := DefaultStaging()
	orders := TableKey{Schema: "sales", Table: "Orders"}
	source := sourceColumns{orders: {{Name: "OrderId", DataType: "int"}}}

	batches, err := st.LoadBatches(ctx, source, orders)
	require.NoError(t, err)
	require.Len(t, batches, 4)
	assert.Equal(t, EnsureSchema("sales"), batches[0])
	assert.Equal(t, DropTable("sales", "Orders"), batches[1])
	assert.Equal(t, "CREATE TABLE [sales].[Orders] (\n    [OrderId] int NOT NULL\n)", batches[2])
	assert.Equal(t, st.CopyInto("sales", "Orders"), batches[3])

	t.Run("table unknown to the source is loaded as is", func(t *testing.T) {
		batches, err := st.LoadBatches(ctx, source, TableKey{Schema: "sales", Table: "Lines"})
		require.NoError(t, err)
		assert.Equal(t, []string{EnsureSchema("sales"), st.CopyInto("sales", "Lines")}, batches)
	})

	t.Run("without a source", func(t *testing.T) {
		batches, err := st.LoadBatches(ctx, nil, orders)
		require.NoError(t, err)
		assert.Len(t, batches, 2)
	})
}

type stagedBlobs []discovery.Blob

func (b stagedBlobs) List(ctx context.Context, prefix string) ([]discovery.Blob, error) {
	return b, nil
}

func TestStagedTables(t *testing.T) {
	lister := stagedBlobs{
		{Name: "sales/Orders/part-0001.parquet"},
		{Name: "dbo/Customers/part-0001.parquet"},
		{Name: "sales/Orders/part-0002.parquet"},
		{Name: "errors/sales/Orders/rejected.csv"},
		{Name: "readme.txt"},
		{Name: "/orphan.parquet"},
		{Name: "dbo/Accounts/"},
	}

	tables, err := StagedTables(context.Background(), lister)
	require.NoError(t, err)
	assert.Equal(t, []TableKey{
		{Schema: "dbo", Table: "Accounts"},
		{Schema: "dbo", Table: "Customers"},
		{Schema: "sales", Table: "Orders"},
	}, tables)
}
