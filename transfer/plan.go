package transfer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/discovery"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the number of tables extracted or loaded concurrently.
const DefaultWorkers = 4

// Execer runs T-SQL batches and reports the affected rows.
type Execer interface {
	Exec(ctx context.Context, batches ...string) (int64, error)
}

// ColumnSource describes the columns of source tables.
type ColumnSource interface {
	Columns(ctx context.Context, schema, table string) ([]Column, error)
}

// Plan is one retried operation applied to a list of tables.
type Plan struct {
	Phase      string
	Operation  string
	MaxRetries int

	// Workers bounds the tables in flight. Zero means DefaultWorkers.
	Workers int

	// Batches builds the batches of one table once, before its first attempt.
	Batches func(ctx context.Context, k TableKey) ([]string, error)
}

// Run executes the plan against db for every table, at most plan.Workers at a time.
// Every table is attempted; the first failure is returned after all have finished.
func (s *Service) Run(ctx context.Context, db Execer, tables []TableKey, plan Plan) error {
	workers := plan.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var (
		group    errgroup.Group
		mu       sync.Mutex
		firstErr error
	)
	group.SetLimit(workers)

	for _, k := range tables {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := s.runTable(ctx, db, k, plan); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return firstErr
}

func (s *Service) runTable(ctx context.Context, db Execer, k TableKey, plan Plan) error {
	step := Step{Phase: plan.Phase, Schema: k.Schema, Table: k.Table, Operation: plan.Operation, MaxRetries: plan.MaxRetries}

	batches, err := plan.Batches(ctx, k)
	if err != nil {
		s.logStep(ctx, step, medallion.MigrationStatusFailed, 0, 0, err)
		return err
	}
	return s.Retry(ctx, step, func(ctx context.Context) (int64, error) {
		return db.Exec(ctx, batches...)
	})
}

// LoadBatches returns the batches loading the staged files of a table. The schema is created
// if missing. When the source describes the table, the target table is dropped and recreated
// from the source columns first; otherwise the existing target table is loaded as is.
func (st Staging) LoadBatches(ctx context.Context, source ColumnSource, k TableKey) ([]string, error) {
	batches := []string{EnsureSchema(k.Schema)}

	if source != nil {
		cols, err := source.Columns(ctx, k.Schema, k.Table)
		if err != nil {
			return nil, err
		}
		if len(cols) > 0 {
			ddl, err := CreateTable(k.Schema, k.Table, cols)
			if err != nil {
				return nil, err
			}
			batches = append(batches, DropTable(k.Schema, k.Table), ddl)
		}
	}
	return append(batches, st.CopyInto(k.Schema, k.Table)), nil
}

// errorsFolder holds the rejected rows of COPY INTO and is never a staged table.
const errorsFolder = "errors/"

// StagedTables lists the tables staged in a container, one per schema/table/ folder, sorted.
func StagedTables(ctx context.Context, lister discovery.Lister) ([]TableKey, error) {
	blobs, err := lister.List(ctx, "")
	if err != nil {
		return nil, Error.Wrap(err)
	}

	seen := make(map[TableKey]struct{})
	var tables []TableKey
	for _, b := range blobs {
		if strings.HasPrefix(b.Name, errorsFolder) {
			continue
		}
		parts := strings.Split(b.Name, "/")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		k := TableKey{Schema: parts[0], Table: parts[1]}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		tables = append(tables, k)
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].less(tables[j]) })
	return tables, nil
}
