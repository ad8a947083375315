package access

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/melkeydev/dbplus/config"
	"github.com/melkeydev/dbplus/databases"
	"github.com/melkeydev/dbplus/databases/sqlite"
	"github.com/melkeydev/dbplus/events"
	"github.com/melkeydev/dbplus/permissions"
	"github.com/melkeydev/dbplus/schema"
	"github.com/melkeydev/dbplus/types"
	"github.com/melkeydev/dbplus/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allowAll = permissions.Policy{
	Default: permissions.NewSet(permissions.Read, permissions.Write, permissions.Delete),
}

func noAudit() Option {
	off := false
	return WithAuditTrail(config.AuditTrailConfig{Enabled: &off})
}

func newTestConnector(t *testing.T) databases.Connector {
	t.Helper()
	conn, err := sqlite.NewSQLiteConnector(config.DatabaseConfig{DBType: "sqlite", File: ":memory:", Name: "d1"})
	require.NoError(t, err)
	return conn
}

func newTestAccess(t *testing.T, opts ...Option) *Access {
	t.Helper()
	a, err := New(context.Background(), newTestConnector(t), "d1", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Destroy() })
	return a
}

// recorder collects every event published on the bus.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(a *Access) *recorder {
	r := &recorder{}
	a.Events().Subscribe(func(_ context.Context, e events.Event) error {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		return nil
	})
	return r
}

func (r *recorder) kinds(table string) []events.ChangeType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.ChangeType
	for _, e := range r.events {
		if e.Table == table {
			out = append(out, e.Type)
		}
	}
	return out
}

func field(t *testing.T, rec types.Record, name string) value.Value {
	t.Helper()
	v, ok := rec.Get(name)
	require.True(t, ok, "field %s missing from %v", name, rec.Keys())
	return v
}

func TestWrite_CreatesTableAndReadsBack(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())
	got := record(a)

	exists, err := a.TableExists(ctx, "Person")
	require.NoError(t, err)
	assert.False(t, exists)

	written, err := a.Write(ctx, allowAll, "Person", types.Record{
		types.F("name", "Ann"),
		types.F("age", 30),
		types.F("active", true),
	})
	require.NoError(t, err)

	id, ok := written.Get("id")
	require.True(t, ok)
	_, err = uuid.Parse(string(id.(value.String)))
	assert.NoError(t, err)

	exists, err = a.TableExists(ctx, "person")
	require.NoError(t, err)
	assert.True(t, exists)

	def, err := a.Definition(ctx, "Person")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "age", "active", schema.CreatedAt, schema.LastModifiedAt}, def.Fields())
	idCol, _ := def.Column("id")
	assert.Equal(t, types.Varchar, idCol.DataType)
	nameCol, _ := def.Column("name")
	assert.Equal(t, types.Varchar, nameCol.DataType)
	assert.Equal(t, 3, nameCol.Length1)
	ageCol, _ := def.Column("age")
	assert.Equal(t, types.SmallInt, ageCol.DataType)
	activeCol, _ := def.Column("active")
	assert.Equal(t, types.Boolean, activeCol.DataType)

	assert.Equal(t, []events.ChangeType{events.Inserted}, got.kinds("person"))

	rows, err := a.Query(ctx, `SELECT name FROM "_entities"`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "person", rows[0]["name"])

	recs, err := a.Read(ctx, allowAll, "person", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"id", "name", "age", "active", "createdAt", "lastModifiedAt"}, recs[0].Keys())
	assert.Equal(t, id, field(t, recs[0], "id"))
	assert.Equal(t, value.String("Ann"), field(t, recs[0], "name"))
	assert.Equal(t, value.Int(30), field(t, recs[0], "age"))
	assert.Equal(t, value.Bool(true), field(t, recs[0], "active"))
	assert.IsType(t, value.Timestamp{}, field(t, recs[0], "createdAt"))
}

func TestWrite_StripsServerTimestamps(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())

	written, err := a.Write(ctx, allowAll, "person", types.Record{
		types.F("id", "p1"),
		types.F("name", "Ann"),
		types.F("createdAt", "1999-01-01"),
		types.F("LAST_MODIFIED_AT", "1999-01-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, written.Keys())

	def, err := a.Definition(ctx, "person")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", schema.CreatedAt, schema.LastModifiedAt}, def.Fields())
}

func TestWrite_DuplicateIDFallsBackToUpdate(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())
	got := record(a)

	_, err := a.Write(ctx, allowAll, "person", types.Record{types.F("id", "X"), types.F("name", "A")})
	require.NoError(t, err)
	_, o := a.TryWrite(ctx, allowAll, "person", types.Record{types.F("id", "X"), types.F("name", "B")})
	require.True(t, o.OK(), o.Err)

	assert.Equal(t, []events.ChangeType{events.Inserted, events.Updated}, got.kinds("person"))

	recs, err := a.Read(ctx, allowAll, "person", ReadOptions{Select: []string{"id", "name"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, value.String("X"), field(t, recs[0], "id"))
	assert.Equal(t, value.String("B"), field(t, recs[0], "name"))
}

func TestWrite_StringIntoIntegerColumnKeepsType(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())

	_, err := a.Write(ctx, allowAll, "person", types.Record{types.F("id", "1"), types.F("age", 30)})
	require.NoError(t, err)
	_, err = a.Write(ctx, allowAll, "person", types.Record{types.F("id", "2"), types.F("age", "thirty")})
	require.NoError(t, err)

	def, err := a.Definition(ctx, "person")
	require.NoError(t, err)
	age, _ := def.Column("age")
	assert.Equal(t, types.SmallInt, age.DataType)
}

func TestWrite_Defaults(t *testing.T) {
	ctx := context.Background()
	var gotTable string
	a := newTestAccess(t, noAudit(), WithDefaults(func(database, table string, rec types.Record, session any) types.Record {
		gotTable = table
		rec.Set("owner", session)
		return rec
	}))

	written, err := a.Write(ctx, allowAll, "fav_color", types.Record{types.F("color", "red")}, WithSession("u1"))
	require.NoError(t, err)
	assert.Equal(t, "favColor", gotTable)
	assert.Equal(t, value.String("u1"), field(t, written, "owner"))

	recs, err := a.Read(ctx, allowAll, "favColor", ReadOptions{Where: map[string]any{"owner": "u1"}})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestWrite_StoreFailureIsSoft(t *testing.T) {
	ctx := context.Background()
	conn := &failingConnector{Connector: newTestConnector(t), failPrefix: "INSERT INTO"}
	a, err := New(ctx, conn, "d1", noAudit())
	require.NoError(t, err)
	t.Cleanup(func() { a.Destroy() })
	got := record(a)

	rec := types.Record{types.F("id", "1"), types.F("name", "Ann")}
	_, o := a.TryWrite(ctx, allowAll, "person", rec)
	assert.Equal(t, StatusStoreError, o.Status)
	var storeErr *StoreError
	require.ErrorAs(t, o.Err, &storeErr)
	assert.Equal(t, "insert", storeErr.Op)

	written, err := a.Write(ctx, allowAll, "person", rec)
	assert.NoError(t, err)
	assert.Equal(t, rec.Keys(), written.Keys())
	assert.Empty(t, got.kinds("person"))
}

func TestPermissions_TableOverride(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())
	_, err := a.Write(ctx, allowAll, "secret", types.Record{types.F("id", "1"), types.F("code", "x")})
	require.NoError(t, err)
	_, err = a.Write(ctx, allowAll, "public", types.Record{types.F("id", "1"), types.F("code", "y")})
	require.NoError(t, err)

	policy := permissions.Policy{
		Default: permissions.NewSet(permissions.Read),
		Tables:  map[string]permissions.TablePolicy{"secret": {}},
	}

	_, err = a.Read(ctx, policy, "secret", ReadOptions{})
	assert.ErrorIs(t, err, permissions.ErrPermissionDenied)

	recs, err := a.Read(ctx, policy, "public", ReadOptions{})
	assert.NoError(t, err)
	assert.Len(t, recs, 1)

	_, o := a.TryWrite(ctx, policy, "public", types.Record{types.F("code", "z")})
	assert.Equal(t, StatusDenied, o.Status)
	_, o = a.TryDelete(ctx, policy, "public", "1")
	assert.Equal(t, StatusDenied, o.Status)
}

func TestPermissions_DeniedReadIssuesNoStatement(t *testing.T) {
	ctx := context.Background()
	conn := &failingConnector{Connector: newTestConnector(t), failLoad: true}
	a, err := New(ctx, conn, "d1", noAudit())
	require.NoError(t, err)
	t.Cleanup(func() { a.Destroy() })

	writeOnly := permissions.Policy{Default: permissions.NewSet(permissions.Write)}
	_, o := a.TryRead(ctx, writeOnly, "person", ReadOptions{})
	assert.Equal(t, StatusDenied, o.Status)

	_, err = a.Read(ctx, writeOnly, "person", ReadOptions{})
	assert.ErrorIs(t, err, permissions.ErrPermissionDenied)

	_, o = a.TryRead(ctx, allowAll, "person", ReadOptions{})
	assert.Equal(t, StatusStoreError, o.Status)
}

func TestPermissions_ProtectedFields(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())
	_, err := a.Write(ctx, allowAll, "person", types.Record{types.F("id", "1"), types.F("name", "Ann"), types.F("age", 30)})
	require.NoError(t, err)

	policy := permissions.Policy{
		Default: permissions.NewSet(permissions.Read, permissions.Write),
		Tables: map[string]permissions.TablePolicy{
			"person": {Operations: permissions.NewSet(permissions.Read, permissions.Write), ProtectedFields: []string{"age"}},
		},
	}

	recs, err := a.Read(ctx, policy, "person", ReadOptions{Select: []string{"name", "age"}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"name"}, recs[0].Keys())

	_, err = a.Read(ctx, policy, "person", ReadOptions{Select: []string{"age"}})
	assert.ErrorIs(t, err, permissions.ErrPermissionDenied)

	recs, err = a.Read(ctx, policy, "person", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotContains(t, recs[0].Keys(), "age")

	_, err = a.Write(ctx, policy, "person", types.Record{types.F("id", "1"), types.F("age", 31)})
	assert.ErrorIs(t, err, permissions.ErrPermissionDenied)
}

func TestRead_Filters(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())
	for _, p := range []struct{ id, team string }{{"1", "a"}, {"2", "b"}, {"3", "c"}} {
		_, err := a.Write(ctx, allowAll, "person", types.Record{types.F("id", p.id), types.F("team", p.team)})
		require.NoError(t, err)
	}

	recs, err := a.Read(ctx, allowAll, "person", ReadOptions{Where: map[string]any{"team": []string{"a", "c"}}})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = a.Read(ctx, allowAll, "person", ReadOptions{Where: map[string]any{"team": []string{}}})
	require.NoError(t, err)
	assert.Empty(t, recs)

	rec, err := a.ReadFirst(ctx, allowAll, "person", ReadOptions{ID: "2", Select: []string{"team"}})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, value.String("b"), field(t, rec, "team"))
	assert.Equal(t, value.String("2"), field(t, rec, "id"))

	rec, err = a.ReadFirst(ctx, allowAll, "person", ReadOptions{ID: "missing"})
	assert.NoError(t, err)
	assert.Nil(t, rec)

	recs, err = a.Read(ctx, allowAll, "nobody", ReadOptions{})
	assert.NoError(t, err)
	assert.Nil(t, recs)
}

func TestDeleteWhere_Events(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())
	for _, p := range []struct{ id, team string }{{"1", "a"}, {"2", "a"}, {"3", "b"}} {
		_, err := a.Write(ctx, allowAll, "person", types.Record{types.F("id", p.id), types.F("team", p.team)})
		require.NoError(t, err)
	}
	got := record(a)

	ids, o := a.TryDeleteWhere(ctx, allowAll, "person", map[string]any{"team": "z"})
	require.True(t, o.OK())
	assert.Empty(t, ids)
	assert.Empty(t, got.events)

	ids, o = a.TryDeleteWhere(ctx, allowAll, "person", map[string]any{"team": "a"})
	require.True(t, o.OK())
	assert.ElementsMatch(t, []string{"1", "2"}, ids)
	require.Len(t, got.events, 1)
	assert.Equal(t, events.Deleted, got.events[0].Type)
	assert.ElementsMatch(t, []string{"1", "2"}, got.events[0].Payload)

	require.NoError(t, a.Delete(ctx, allowAll, "person", "3"))
	require.Len(t, got.events, 2)
	assert.Equal(t, []string{"3"}, got.events[1].Payload)

	recs, err := a.Read(ctx, allowAll, "person", ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDeleteWhere_EmptyPredicateDeletesNothing(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())
	_, err := a.Write(ctx, allowAll, "person", types.Record{types.F("id", "1")})
	require.NoError(t, err)

	ids, o := a.TryDeleteWhere(ctx, allowAll, "person", nil)
	assert.True(t, o.OK())
	assert.Empty(t, ids)

	recs, err := a.Read(ctx, allowAll, "person", ReadOptions{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestQualifiers_IsolateTenants(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, noAudit())

	acme := allowAll
	acme.Qualifiers = map[string]any{"_account": "acme"}
	globex := allowAll
	globex.Qualifiers = map[string]any{"_account": "globex"}

	ann, err := a.Write(ctx, acme, "person", types.Record{types.F("name", "Ann")})
	require.NoError(t, err)
	_, err = a.Write(ctx, globex, "person", types.Record{types.F("name", "Bob")})
	require.NoError(t, err)

	recs, err := a.Read(ctx, acme, "person", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, value.String("Ann"), field(t, recs[0], "name"))
	assert.Equal(t, value.String("acme"), field(t, recs[0], "_account"))

	// An update through another tenant cannot reach Ann's row.
	annID, _ := ann.Get("id")
	_, err = a.Write(ctx, globex, "person", types.Record{types.F("id", value.Native(annID)), types.F("name", "Mallory")})
	require.NoError(t, err)

	require.NoError(t, a.DeleteWhere(ctx, globex, "person", nil))

	recs, err = a.Read(ctx, acme, "person", ReadOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, value.String("Ann"), field(t, recs[0], "name"))

	recs, err = a.Read(ctx, globex, "person", ReadOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAuditTrail(t *testing.T) {
	ctx := context.Background()
	a := newTestAccess(t, WithAuditTrail(config.AuditTrailConfig{SkipTables: []string{"Session"}}))
	got := record(a)

	_, err := a.Write(ctx, allowAll, "person", types.Record{types.F("id", "1"), types.F("name", "Ann")})
	require.NoError(t, err)
	_, err = a.Write(ctx, allowAll, "session", types.Record{types.F("id", "s1")})
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, allowAll, "person", "1"))

	rows, err := a.Query(ctx, `SELECT table_name, operation, data FROM "audit_trail" ORDER BY rowid`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "person", rows[0]["table_name"])
	assert.Equal(t, "Inserted", rows[0]["operation"])
	assert.Contains(t, rows[0]["data"], `"name":"Ann"`)
	assert.Equal(t, "Deleted", rows[1]["operation"])
	assert.Equal(t, `["1"]`, rows[1]["data"])

	// Audit rows raise their own events, which are not audited again.
	assert.Equal(t, []events.ChangeType{events.Inserted, events.Inserted}, got.kinds("auditTrail"))
}

func TestNew_FailOnMissingDatabase(t *testing.T) {
	conn := &failingConnector{Connector: newTestConnector(t), missingDB: true}

	_, err := New(context.Background(), conn, "d1", WithFailOnMissingDatabase(true))
	assert.ErrorIs(t, err, schema.ErrMissingDatabase)
	assert.True(t, conn.closed)
}

func TestDestroy(t *testing.T) {
	a, err := New(context.Background(), newTestConnector(t), "d1", noAudit())
	require.NoError(t, err)
	calls := 0
	a.Events().Subscribe(func(context.Context, events.Event) error {
		calls++
		return nil
	})

	require.NoError(t, a.Destroy())
	a.Events().Publish(context.Background(), events.Event{Type: events.Inserted})
	assert.Equal(t, 0, calls)
}

// failingConnector wraps a working connector and injects store failures.
type failingConnector struct {
	databases.Connector
	failPrefix string
	failLoad   bool
	missingDB  bool
	closed     bool
}

func (f *failingConnector) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if f.failPrefix != "" && strings.HasPrefix(query, f.failPrefix) {
		return nil, errors.New("disk full")
	}
	return f.Connector.Exec(ctx, query, args...)
}

func (f *failingConnector) LoadColumns(ctx context.Context, database, table string) ([]types.ColumnDefinition, error) {
	if f.failLoad {
		return nil, errors.New("connection reset")
	}
	return f.Connector.LoadColumns(ctx, database, table)
}

func (f *failingConnector) DatabaseExists(ctx context.Context, database string) (bool, error) {
	if f.missingDB {
		return false, nil
	}
	return f.Connector.DatabaseExists(ctx, database)
}

func (f *failingConnector) Close() error {
	f.closed = true
	return f.Connector.Close()
}
