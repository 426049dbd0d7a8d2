package transfer

import (
	"context"
	"math"

	"github.com/getpup/medallion"
	"go.uber.org/zap"
)

// Storage recommendation thresholds.
const (
	CompressionThresholdMB  = 5000.0
	PartitioningThresholdMB = 10000.0
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Variance returns |source-target| * 100 / source rounded to two decimals, or 0 when source is 0.
func Variance(source, target int64) float64 {
	if source == 0 {
		return 0
	}
	diff := source - target
	if diff < 0 {
		diff = -diff
	}
	return round2(float64(diff) * 100 / float64(source))
}

// Verdict is PASS when both counts are equal and FAIL otherwise.
func Verdict(source, target int64) medallion.ValidationStatus {
	if source == target {
		return medallion.ValidationPass
	}
	return medallion.ValidationFail
}

// ValidateRowCounts compares the counts of one table and persists the result.
// A mismatch is reported through the FAIL status, not as an error.
func (s *Service) ValidateRowCounts(ctx context.Context, schema, table string, source, target int64) (medallion.DataLoadValidation, error) {
	v, err := s.store.AppendValidation(ctx, medallion.DataLoadValidation{
		SchemaName:  schema,
		TableName:   table,
		SourceCount: source,
		TargetCount: target,
		VariancePct: Variance(source, target),
		Status:      Verdict(source, target),
		ValidatedAt: s.now(),
	})
	if err != nil {
		return medallion.DataLoadValidation{}, err
	}

	s.metrics.IncTransferValidations(string(v.Status))
	if v.Status == medallion.ValidationFail {
		s.logger.Info("row count mismatch",
			zap.String("table", schema+"."+table),
			zap.Int64("source", source),
			zap.Int64("target", target),
			zap.Float64("variancePct", v.VariancePct))
	}
	return v, nil
}

// Validations returns every persisted validation in insertion order.
func (s *Service) Validations(ctx context.Context) ([]medallion.DataLoadValidation, error) {
	return s.store.ListValidations(ctx)
}

// TableSize is the raw size profile of a source table.
type TableSize struct {
	Schema   string  `db:"schema_name"`
	Table    string  `db:"table_name"`
	RowCount int64   `db:"row_count"`
	SizeGB   float64 `db:"size_gb"`
}

// Analyze derives MB/GB sizes and storage recommendations from a size profile.
func Analyze(ts TableSize) medallion.TableSizeAnalysis {
	mb := ts.SizeGB * 1024
	return medallion.TableSizeAnalysis{
		SchemaName:            ts.Schema,
		TableName:             ts.Table,
		RowCount:              ts.RowCount,
		SizeMB:                round2(mb),
		SizeGB:                round2(ts.SizeGB),
		RecommendCompression:  mb > CompressionThresholdMB,
		RecommendPartitioning: mb > PartitioningThresholdMB,
	}
}

// SizeSource lists the size profile of every user table of a database.
type SizeSource interface {
	TableSizes(ctx context.Context) ([]TableSize, error)
}

// AnalyzeTableSizes profiles every table of src and persists one analysis row per table.
func (s *Service) AnalyzeTableSizes(ctx context.Context, src SizeSource) ([]medallion.TableSizeAnalysis, error) {
	sizes, err := src.TableSizes(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return s.AnalyzeTables(ctx, sizes)
}

// AnalyzeTables persists one analysis row per given table.
func (s *Service) AnalyzeTables(ctx context.Context, sizes []TableSize) ([]medallion.TableSizeAnalysis, error) {
	now := s.now()
	out := make([]medallion.TableSizeAnalysis, 0, len(sizes))
	for _, ts := range sizes {
		a := Analyze(ts)
		a.AnalyzedAt = now

		stored, err := s.store.AppendTableSize(ctx, a)
		if err != nil {
			return out, err
		}
		out = append(out, stored)
	}

	s.logger.Info("table sizes analyzed", zap.Int("tables", len(out)))
	return out, nil
}

// TableSizes returns every persisted analysis in insertion order.
func (s *Service) TableSizes(ctx context.Context) ([]medallion.TableSizeAnalysis, error) {
	return s.store.ListTableSizes(ctx)
}
