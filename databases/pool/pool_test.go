package pool

import (
	"context"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := Open("sqlite3", ":memory:", Options{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	ctx := context.Background()
	_, err = p.Exec(ctx, `CREATE TABLE person (id varchar(8) PRIMARY KEY, age smallint)`)
	require.NoError(t, err)
	for _, row := range []struct {
		id  string
		age int
	}{{"a", 30}, {"b", 40}, {"c", 50}} {
		_, err = p.Exec(ctx, `INSERT INTO person (id, age) VALUES (?, ?)`, row.id, row.age)
		require.NoError(t, err)
	}
	return p
}

func TestQuery_ExpandsSliceArguments(t *testing.T) {
	p := newTestPool(t)

	rows, err := p.Query(context.Background(), `SELECT id FROM person WHERE id IN (?) AND age > ? ORDER BY id`, []string{"a", "c"}, 35)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0]["id"])
}

func TestSelect(t *testing.T) {
	p := newTestPool(t)

	var ages []int
	require.NoError(t, p.Select(context.Background(), &ages, `SELECT age FROM person ORDER BY age`))
	assert.Equal(t, []int{30, 40, 50}, ages)
}

func TestExec_BytesAreNotExpanded(t *testing.T) {
	p := newTestPool(t)

	_, err := p.Exec(context.Background(), `INSERT INTO person (id, age) VALUES (?, ?)`, []byte("d"), 60)
	require.NoError(t, err)

	var n []int
	require.NoError(t, p.Select(context.Background(), &n, `SELECT count(*) FROM person`))
	assert.Equal(t, []int{4}, n)
}

func TestOptions(t *testing.T) {
	p := newTestPool(t)
	assert.Equal(t, 1, p.DB().Stats().MaxOpenConnections)
	assert.NoError(t, p.Ping(context.Background()))
}
