package sqlite

import (
	"context"
	"testing"

	"github.com/melkeydev/dbplus/config"
	"github.com/melkeydev/dbplus/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(t *testing.T) *SQLiteConnector {
	t.Helper()
	c, err := NewSQLiteConnector(config.DatabaseConfig{DBType: "sqlite", File: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestLoadColumns_MissingTable(t *testing.T) {
	c := newTestConnector(t)

	cols, err := c.LoadColumns(context.Background(), "d1", "nothing")
	require.NoError(t, err)
	assert.Nil(t, cols)
}

func TestLoadColumns_RoundTripsCreateTable(t *testing.T) {
	ctx := context.Background()
	c := newTestConnector(t)

	cols := []types.ColumnDefinition{
		{Name: "id", DataType: types.Varchar, Length1: 36},
		{Name: "price", DataType: types.Decimal, Length1: 5, Length2: 2},
		{Name: "active", DataType: types.Boolean},
		{Name: "notes", DataType: types.Text, Length1: types.TextLength},
	}
	keys := []types.SchemaKey{{Fields: []string{"price"}, Kind: types.Index}}
	for _, stmt := range c.CreateTable("d1", "item", cols, keys) {
		_, err := c.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	got, err := c.LoadColumns(ctx, "d1", "item")
	require.NoError(t, err)

	var fields []types.ColumnDefinition
	var indexes []string
	for _, col := range got {
		if col.DataType == types.Key {
			indexes = append(indexes, col.Name)
			continue
		}
		fields = append(fields, col)
	}

	require.Len(t, fields, 6)
	assert.Equal(t, types.Varchar, fields[0].DataType)
	assert.Equal(t, 36, fields[0].Length1)
	assert.Equal(t, types.Decimal, fields[1].DataType)
	assert.Equal(t, 5, fields[1].Length1)
	assert.Equal(t, 2, fields[1].Length2)
	assert.Equal(t, types.Boolean, fields[2].DataType)
	assert.Equal(t, types.Text, fields[3].DataType)
	assert.Equal(t, "created_at", fields[4].Name)
	assert.Equal(t, types.Timestamp, fields[5].DataType)
	assert.Contains(t, indexes, "item_idx_price")
}

func TestIsDuplicate(t *testing.T) {
	ctx := context.Background()
	c := newTestConnector(t)

	cols := []types.ColumnDefinition{{Name: "id", DataType: types.Varchar, Length1: 1}}
	for _, stmt := range c.CreateTable("d1", "t", cols, nil) {
		_, err := c.Exec(ctx, stmt)
		require.NoError(t, err)
	}

	_, err := c.Exec(ctx, `INSERT INTO "t" ("id") VALUES (?)`, "X")
	require.NoError(t, err)
	_, err = c.Exec(ctx, `INSERT INTO "t" ("id") VALUES (?)`, "X")
	require.Error(t, err)
	assert.True(t, c.IsDuplicate(err))

	_, err = c.Exec(ctx, `INSERT INTO "missing" ("id") VALUES (?)`, "X")
	require.Error(t, err)
	assert.False(t, c.IsDuplicate(err))
}

func TestQuery_ExpandsSliceArguments(t *testing.T) {
	ctx := context.Background()
	c := newTestConnector(t)

	_, err := c.Exec(ctx, `CREATE TABLE "n" ("v" int)`)
	require.NoError(t, err)
	for _, v := range []int{1, 2, 3, 4} {
		_, err := c.Exec(ctx, `INSERT INTO "n" ("v") VALUES (?)`, v)
		require.NoError(t, err)
	}

	rows, err := c.Query(ctx, `SELECT "v" FROM "n" WHERE "v" IN (?) AND "v" > ? ORDER BY "v"`, []int{1, 3, 4}, 1)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 3, rows[0]["v"])
	assert.EqualValues(t, 4, rows[1]["v"])
}

func TestInsertIgnore(t *testing.T) {
	ctx := context.Background()
	c := newTestConnector(t)

	_, err := c.Exec(ctx, `CREATE TABLE "_entities" ("name" varchar(255) NOT NULL, PRIMARY KEY ("name"))`)
	require.NoError(t, err)

	stmt := c.InsertIgnore("d1", "_entities", []string{"name"})
	for i := 0; i < 2; i++ {
		_, err := c.Exec(ctx, stmt, "person")
		require.NoError(t, err)
	}

	rows, err := c.Query(ctx, `SELECT name FROM "_entities"`)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
