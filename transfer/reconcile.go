package transfer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/getpup/medallion"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TableKey identifies a table across source and target.
type TableKey struct {
	Schema string
	Table  string
}

func (k TableKey) String() string {
	return k.Schema + "." + k.Table
}

func (k TableKey) less(o TableKey) bool {
	if k.Schema != o.Schema {
		return k.Schema < o.Schema
	}
	return k.Table < o.Table
}

// Counter returns the row count of every user table of a database.
type Counter interface {
	RowCounts(ctx context.Context) (map[TableKey]int64, error)
}

// TableCount is a table that exists on one side only.
type TableCount struct {
	Table TableKey
	Rows  int64
}

// Reconciliation is the outcome of comparing the table sets of source and target.
type Reconciliation struct {
	Matches    []medallion.DataLoadValidation
	Mismatches []medallion.DataLoadValidation

	// MissingInTarget tables are also persisted as FAIL validations with a zero target count.
	MissingInTarget []TableCount
	ExtraInTarget   []TableCount
}

// Passed reports whether every source table arrived with the same row count.
func (r Reconciliation) Passed() bool {
	return len(r.Mismatches) == 0 && len(r.MissingInTarget) == 0
}

// Reconcile reads the row counts of source and target concurrently, validates every
// table present in the source and lists the tables present on one side only.
func (s *Service) Reconcile(ctx context.Context, source, target Counter) (Reconciliation, error) {
	var src, dst map[TableKey]int64

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		src, err = source.RowCounts(gctx)
		if err != nil {
			return Error.New("source row counts: %v", err)
		}
		return nil
	})
	group.Go(func() (err error) {
		dst, err = target.RowCounts(gctx)
		if err != nil {
			return Error.New("target row counts: %v", err)
		}
		return nil
	})
	if err := group.Wait(); err != nil {
		return Reconciliation{}, err
	}

	keys := make([]TableKey, 0, len(src)+len(dst))
	for k := range src {
		keys = append(keys, k)
	}
	for k := range dst {
		if _, ok := src[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].less(keys[j]) })

	var r Reconciliation
	for _, k := range keys {
		srcRows, inSource := src[k]
		dstRows, inTarget := dst[k]

		if !inSource {
			r.ExtraInTarget = append(r.ExtraInTarget, TableCount{Table: k, Rows: dstRows})
			continue
		}

		v, err := s.ValidateRowCounts(ctx, k.Schema, k.Table, srcRows, dstRows)
		if err != nil {
			return r, err
		}
		switch {
		case !inTarget:
			r.MissingInTarget = append(r.MissingInTarget, TableCount{Table: k, Rows: srcRows})
		case v.Status == medallion.ValidationPass:
			r.Matches = append(r.Matches, v)
		default:
			r.Mismatches = append(r.Mismatches, v)
		}
	}

	s.logger.Info("reconciliation finished",
		zap.Int("matches", len(r.Matches)),
		zap.Int("mismatches", len(r.Mismatches)),
		zap.Int("missing", len(r.MissingInTarget)),
		zap.Int("extra", len(r.ExtraInTarget)))
	return r, nil
}

// ReportHeader describes the compared databases in a report.
type ReportHeader struct {
	Source    string
	Target    string
	Generated time.Time
}

// Report renders a plain text validation report.
func Report(h ReportHeader, r Reconciliation) string {
	rule := strings.Repeat("=", 80)
	thin := strings.Repeat("-", 80)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\nMIGRATION VALIDATION REPORT\n%s\n\n", rule, rule)
	fmt.Fprintf(&b, "Generated: %s\n", h.Generated.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Source: %s\n", h.Source)
	fmt.Fprintf(&b, "Target: %s\n\n", h.Target)

	fmt.Fprintf(&b, "%s\nROW COUNT VALIDATION\n%s\n\n", thin, thin)
	fmt.Fprintf(&b, "Total tables validated: %d\n", len(r.Matches)+len(r.Mismatches))
	fmt.Fprintf(&b, "Matches: %d\n", len(r.Matches))
	fmt.Fprintf(&b, "Mismatches: %d\n", len(r.Mismatches))
	fmt.Fprintf(&b, "Missing in target: %d\n", len(r.MissingInTarget))
	fmt.Fprintf(&b, "Extra in target: %d\n\n", len(r.ExtraInTarget))

	if len(r.Mismatches) > 0 {
		fmt.Fprintf(&b, "Tables with row count mismatches:\n%s\n", thin)
		for _, v := range r.Mismatches {
			diff := v.SourceCount - v.TargetCount
			if diff < 0 {
				diff = -diff
			}
			fmt.Fprintf(&b, "%s.%s\n", v.SchemaName, v.TableName)
			fmt.Fprintf(&b, "  Source: %d rows\n", v.SourceCount)
			fmt.Fprintf(&b, "  Target: %d rows\n", v.TargetCount)
			fmt.Fprintf(&b, "  Difference: %d rows (%.2f%%)\n\n", diff, v.VariancePct)
		}
	}

	if len(r.MissingInTarget) > 0 {
		fmt.Fprintf(&b, "\nTables missing in target:\n%s\n", thin)
		for _, t := range r.MissingInTarget {
			fmt.Fprintf(&b, "%s (%d rows in source)\n", t.Table, t.Rows)
		}
	}

	if len(r.ExtraInTarget) > 0 {
		fmt.Fprintf(&b, "\nTables only in target:\n%s\n", thin)
		for _, t := range r.ExtraInTarget {
			fmt.Fprintf(&b, "%s (%d rows in target)\n", t.Table, t.Rows)
		}
	}

	fmt.Fprintf(&b, "\n%s\nEND OF REPORT\n%s\n", rule, rule)
	return b.String()
}
