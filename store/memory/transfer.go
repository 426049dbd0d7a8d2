package memory

import (
	"context"

	"github.com/getpup/medallion"
)

// AppendMigrationLog assigns the next ExecutionSequence of (Phase, Operation) and appends the entry.
func (s *Store) AppendMigrationLog(ctx context.Context, entry medallion.MigrationLogEntry) (medallion.MigrationLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sequenceKey{phase: entry.Phase, operation: entry.Operation}
	s.sequences[key]++

	entry.ID = s.nextID("migration_log")
	entry.ExecutionSequence = s.sequences[key]
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = s.now()
	}
	s.migrationLog = append(s.migrationLog, entry)
	return entry, nil
}

// ListMigrationLog returns entries of (phase, operation) ordered by sequence.
// Empty phase and operation return the whole log.
func (s *Store) ListMigrationLog(ctx context.Context, phase, operation string) ([]medallion.MigrationLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []medallion.MigrationLogEntry
	for _, e := range s.migrationLog {
		if phase != "" && e.Phase != phase {
			continue
		}
		if operation != "" && e.Operation != operation {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// AppendValidation stores a row count validation and returns it with its id.
func (s *Store) AppendValidation(ctx context.Context, v medallion.DataLoadValidation) (medallion.DataLoadValidation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v.ID = s.nextID("data_load_validation")
	if v.ValidatedAt.IsZero() {
		v.ValidatedAt = s.now()
	}
	s.validations = append(s.validations, v)
	return v, nil
}

// ListValidations returns every validation in insertion order.
func (s *Store) ListValidations(ctx context.Context) ([]medallion.DataLoadValidation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]medallion.DataLoadValidation, len(s.validations))
	copy(out, s.validations)
	return out, nil
}

// AppendTableSize stores a table size analysis and returns it with its id.
func (s *Store) AppendTableSize(ctx context.Context, a medallion.TableSizeAnalysis) (medallion.TableSizeAnalysis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.ID = s.nextID("table_size_analysis")
	if a.AnalyzedAt.IsZero() {
		a.AnalyzedAt = s.now()
	}
	s.tableSizes = append(s.tableSizes, a)
	return a, nil
}

// ListTableSizes returns every analysis in insertion order.
func (s *Store) ListTableSizes(ctx context.Context) ([]medallion.TableSizeAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]medallion.TableSizeAnalysis, len(s.tableSizes))
	copy(out, s.tableSizes)
	return out, nil
}
