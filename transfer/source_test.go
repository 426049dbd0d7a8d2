package transfer

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLServerCatalogExecReturnsAffectedRows(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	c := NewSQLServerCatalog(db)
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	rows, err := c.Exec(ctx,
		"CREATE TABLE orders (id INTEGER)",
		"INSERT INTO orders (id) VALUES (1), (2), (3)",
		"INSERT INTO orders (id) VALUES (4)",
	)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rows)

	rows, err = c.Exec(ctx, "DELETE FROM orders WHERE id > 2", "SELECT broken FROM missing")
	assert.Error(t, err)
	assert.Equal(t, int64(2), rows, "rows of batches before the failure are reported")
}
