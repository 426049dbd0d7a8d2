package transfer

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/getpup/medallion"
)

// DefaultLogTable is the migration log table the generated script writes to.
const DefaultLogTable = "medallion_migration_log"

// ScriptConfig parameterizes GenerateRetryableBulkCopy.
type ScriptConfig struct {
	Schema string
	Table  string

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// Phase and Operation label log rows. Default to PhaseLoad and OperationCopyInto.
	Phase     string
	Operation string

	// LogTable may be schema qualified, e.g. "migration.migration_log". Defaults to DefaultLogTable.
	LogTable string

	// Statement is the bulk copy to run. Defaults to Staging.CopyInto(Schema, Table).
	Statement string
	Staging   Staging
}

var retryScript = template.Must(template.New("retry").Parse(`-- Retryable bulk copy of {{.Target}}
-- {{.Attempts}} attempts at most, waiting POWER(2, attempt) seconds after each failure.
SET NOCOUNT ON;
DECLARE @max_retries INT = {{.MaxRetries}};
DECLARE @attempt INT = 0;
DECLARE @start DATETIME2;
DECLARE @rows BIGINT;
DECLARE @delay VARCHAR(8);
DECLARE @error_number INT;
DECLARE @error_message NVARCHAR(4000);
DECLARE @error_severity INT;

WHILE 1 = 1
BEGIN
    SET @start = SYSUTCDATETIME();
    BEGIN TRY
{{.Statement}};
        SET @rows = @@ROWCOUNT;
{{.LogSuccess}}
        BREAK;
    END TRY
    BEGIN CATCH
        SELECT @error_number = ERROR_NUMBER(),
               @error_message = ERROR_MESSAGE(),
               @error_severity = ERROR_SEVERITY();
        SET @attempt = @attempt + 1;

        IF @attempt <= @max_retries
        BEGIN
{{.LogRetry}}
            SET @delay = CONVERT(VARCHAR(8), DATEADD(SECOND, POWER(2, @attempt), 0), 108);
            WAITFOR DELAY @delay;
        END
        ELSE
        BEGIN
{{.LogFailed}}
            THROW;
        END
    END CATCH
END
`))

type scriptData struct {
	Target     string
	Attempts   int
	MaxRetries int
	Statement  string
	LogSuccess string
	LogRetry   string
	LogFailed  string
}

// quoteQualified quotes every part of a dotted name.
func quoteQualified(name string) (string, error) {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("%w: malformed table name %q", medallion.ErrInvalidArgument, name)
		}
		parts[i] = tsql.Ident(p)
	}
	return strings.Join(parts, "."), nil
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// GenerateRetryableBulkCopy renders a T-SQL script that runs the bulk copy up to
// 1+MaxRetries times. Success logs SUCCESS and leaves the loop; a failure with attempts
// left logs RETRY and waits 2^attempt seconds; the last failure logs FAILED with the
// error number, message and severity, then re-raises the original error with THROW.
// Every log row takes the next execution_sequence of its (phase, operation).
func GenerateRetryableBulkCopy(cfg ScriptConfig) (string, error) {
	if cfg.MaxRetries < 0 {
		return "", fmt.Errorf("%w: max retries must not be negative", medallion.ErrInvalidArgument)
	}
	if cfg.Table == "" {
		return "", fmt.Errorf("%w: table is required", medallion.ErrInvalidArgument)
	}
	if cfg.Phase == "" {
		cfg.Phase = PhaseLoad
	}
	if cfg.Operation == "" {
		cfg.Operation = OperationCopyInto
	}
	if cfg.LogTable == "" {
		cfg.LogTable = DefaultLogTable
	}
	if cfg.Statement == "" {
		cfg.Statement = cfg.Staging.CopyInto(cfg.Schema, cfg.Table)
	}

	logTable, err := quoteQualified(cfg.LogTable)
	if err != nil {
		return "", err
	}

	logRow := func(status, rows, errNumber, errMessage, errSeverity string) string {
		return fmt.Sprintf(`INSERT INTO %[1]s (phase, schema_name, table_name, operation, status, rows_processed,
    duration_seconds, file_size_mb, error_number, error_message, error_severity, logged_at, execution_sequence)
SELECT %[2]s, %[3]s, %[4]s, %[5]s, '%[6]s', %[7]s,
    DATEDIFF(MILLISECOND, @start, SYSUTCDATETIME()) / 1000.0, 0, %[8]s, %[9]s, %[10]s, SYSUTCDATETIME(),
    COALESCE(MAX(execution_sequence), 0) + 1
FROM %[1]s
WHERE phase = %[2]s AND operation = %[5]s;`,
			logTable, tsql.Literal(cfg.Phase), tsql.Literal(cfg.Schema), tsql.Literal(cfg.Table),
			tsql.Literal(cfg.Operation), status, rows, errNumber, errMessage, errSeverity)
	}

	data := scriptData{
		Target:     tsql.Table(cfg.Schema, cfg.Table),
		Attempts:   cfg.MaxRetries + 1,
		MaxRetries: cfg.MaxRetries,
		Statement:  indent(cfg.Statement, "        "),
		LogSuccess: indent(logRow(string(medallion.MigrationStatusSuccess), "@rows", "0", "''", "0"), "        "),
		LogRetry:   indent(logRow(string(medallion.MigrationStatusRetry), "0", "@error_number", "@error_message", "@error_severity"), "            "),
		LogFailed:  indent(logRow(string(medallion.MigrationStatusFailed), "0", "@error_number", "@error_message", "@error_severity"), "            "),
	}

	var buf bytes.Buffer
	if err := retryScript.Execute(&buf, data); err != nil {
		return "", Error.Wrap(err)
	}
	return buf.String(), nil
}
