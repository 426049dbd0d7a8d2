package dispatch

import (
	"strings"

	"github.com/getpup/medallion/checkpoint"
	"github.com/getpup/medallion/store"
)

// QuoteStyle is the identifier quoting convention of a source dialect.
type QuoteStyle int

const (
	// QuoteBrackets quotes identifiers as [name] (Azure SQL, SQL Server).
	QuoteBrackets QuoteStyle = iota

	// QuoteDouble quotes identifiers as "name" (Oracle, PostgreSQL).
	QuoteDouble

	// QuoteBacktick quotes identifiers as `name` (MySQL).
	QuoteBacktick
)

// QuoteStyleFor returns the quoting style of a data source type. Unknown types use brackets.
func QuoteStyleFor(dataSourceType string) QuoteStyle {
	switch strings.ToUpper(dataSourceType) {
	case "ORACLE", "POSTGRES", "POSTGRESQL":
		return QuoteDouble
	case "MYSQL", "MARIADB":
		return QuoteBacktick
	default:
		return QuoteBrackets
	}
}

// Ident quotes one identifier, doubling the closing quote character.
func (q QuoteStyle) Ident(name string) string {
	switch q {
	case QuoteDouble:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	case QuoteBacktick:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	default:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	}
}

// Table quotes a schema qualified table name. An empty schema yields the bare table.
func (q QuoteStyle) Table(schema, name string) string {
	if schema == "" {
		return q.Ident(name)
	}
	return q.Ident(schema) + "." + q.Ident(name)
}

// Literal renders v as a string literal. MySQL also treats backslash as an escape character.
func (q QuoteStyle) Literal(v string) string {
	if q == QuoteBacktick {
		v = strings.ReplaceAll(v, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// isFileSource reports whether the data source type has no SQL surface; its landing files are copied as is.
func isFileSource(dataSourceType string) bool {
	switch strings.ToUpper(dataSourceType) {
	case "ADLS", "BLOB", "FILE", "FTP", "SFTP", "ONELAKE", "SHAREPOINT":
		return true
	}
	return false
}

// Extraction describes the select a landing executor should run against the source.
type Extraction struct {
	DataSourceType    string
	Schema            string
	Table             string
	Incremental       bool
	IncrementalColumn string

	// Watermark is the last load value. Empty means never loaded.
	Watermark string
}

// ExtractionFor builds the extraction of a ready landing row.
func ExtractionFor(row store.LandingReadyRow) Extraction {
	e := Extraction{
		DataSourceType:    row.DataSourceType,
		Schema:            row.SourceSchema,
		Table:             row.SourceName,
		Incremental:       row.IsIncremental,
		IncrementalColumn: row.IncrementalColumn,
	}
	if row.HasLastLoadValue {
		e.Watermark = row.LastLoadValue
	}
	return e
}

// EffectiveWatermark returns the watermark, or checkpoint.Sentinel when the entity was never loaded.
func (e Extraction) EffectiveWatermark() string {
	if e.Watermark == "" {
		return checkpoint.Sentinel
	}
	return e.Watermark
}

// SQL renders the extraction query. A full load selects every row; an incremental load
// filters on IncrementalColumn > watermark. File based sources return an empty string.
//
// The text is advisory: it is handed to the executor and never run by this module.
func (e Extraction) SQL() string {
	if isFileSource(e.DataSourceType) {
		return ""
	}

	q := QuoteStyleFor(e.DataSourceType)
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(q.Table(e.Schema, e.Table))

	if e.Incremental && e.IncrementalColumn != "" {
		b.WriteString(" WHERE ")
		b.WriteString(q.Ident(e.IncrementalColumn))
		b.WriteString(" > ")
		b.WriteString(q.Literal(e.EffectiveWatermark()))
	}
	return b.String()
}
