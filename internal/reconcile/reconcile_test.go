package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/tablefit/internal/catalog"
	"github.com/arkilian/tablefit/internal/engine"
	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/internal/schema"
	"github.com/arkilian/tablefit/pkg/types"
)

func baselineFields() []types.FieldDescriptor {
	return []types.FieldDescriptor{
		types.PrimaryKey("anInt32", types.Integer32, types.OrderAscending, true),
		types.Field("anInt64", types.Integer64),
		types.Field("aString", types.Text),
		types.Field("aData", types.Blob),
		types.Field("aDouble", types.Real),
	}
}

type testDB struct {
	engine     *engine.Engine
	catalog    *catalog.Introspector
	reconciler *Reconciler
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()
	e, err := engine.Open(engine.Options{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	cat := catalog.New(e.DB())
	return &testDB{engine: e, catalog: cat, reconciler: New(e, cat)}
}

func mustBuild(t *testing.T, table string, m types.Model) *types.TableSchema {
	t.Helper()
	s, err := schema.Build(table, m)
	require.NoError(t, err)
	return s
}

func TestReconcile_CreatesAbsentTable(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := mustBuild(t, "BaselineObject", types.Model{
		Fields:  baselineFields(),
		Indexes: []types.IndexBinding{types.IndexBy("_index", "aString", "aDouble")},
	})

	applied, err := db.reconciler.Reconcile(ctx, s)
	require.NoError(t, err)
	require.NotEmpty(t, applied.RunID)
	require.Equal(t, Absent, applied.Initial)
	require.Equal(t, Present, applied.Final)
	require.Equal(t, []string{
		"CREATE TABLE BaselineObject(anInt32 INTEGER PRIMARY KEY ASC AUTOINCREMENT, anInt64 INTEGER, aString TEXT, aData BLOB, aDouble REAL)",
		"CREATE INDEX BaselineObject_index ON BaselineObject(aString, aDouble)",
	}, applied.Statements())
	require.Equal(t, OpCreateTable, applied.Operations[0].Kind)
	require.Equal(t, OpCreateIndex, applied.Operations[1].Kind)

	live, err := db.catalog.LookupTable(ctx, "BaselineObject")
	require.NoError(t, err)
	require.NotNil(t, live)
	require.Equal(t, applied.Operations[0].SQL, live.SQL)

	idx, err := db.catalog.LookupIndex(ctx, "BaselineObject_index")
	require.NoError(t, err)
	require.NotNil(t, idx)
}

func TestReconcile_Idempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := mustBuild(t, "BaselineObject", types.Model{
		Fields:  baselineFields(),
		Indexes: []types.IndexBinding{types.IndexBy("_index", "aString")},
	})

	_, err := db.reconciler.Reconcile(ctx, s)
	require.NoError(t, err)

	again, err := db.reconciler.Reconcile(ctx, s)
	require.NoError(t, err)
	require.True(t, again.Empty())
	require.Equal(t, Present, again.Initial)
	require.Equal(t, Present, again.Final)
}

func TestReconcile_AutoFitAddsMissingColumn(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.reconciler.Reconcile(ctx, mustBuild(t, "AutoFitBaseLineObject", types.Model{Fields: baselineFields()}))
	require.NoError(t, err)

	extended := append(baselineFields(), types.Field("newColumn", types.Integer32))
	applied, err := db.reconciler.Reconcile(ctx, mustBuild(t, "AutoFitBaseLineObject", types.Model{Fields: extended}))
	require.NoError(t, err)
	require.Equal(t, Diverged, applied.Initial)
	require.Equal(t, Present, applied.Final)
	require.Equal(t, []string{"ALTER TABLE AutoFitBaseLineObject ADD COLUMN newColumn INTEGER"}, applied.Statements())
	require.Equal(t, OpAddColumn, applied.Operations[0].Kind)
	require.Equal(t, "AutoFitBaseLineObject.newColumn", applied.Operations[0].Object)

	live, err := db.catalog.LookupTable(ctx, "AutoFitBaseLineObject")
	require.NoError(t, err)
	require.Equal(t,
		"CREATE TABLE AutoFitBaseLineObject(anInt32 INTEGER PRIMARY KEY ASC AUTOINCREMENT, anInt64 INTEGER, aString TEXT, aData BLOB, aDouble REAL, newColumn INTEGER)",
		live.SQL)
}

func TestReconcile_AddsColumnsInDeclarationOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.reconciler.Reconcile(ctx, mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{types.Field("b", types.Text)},
	}))
	require.NoError(t, err)

	applied, err := db.reconciler.Reconcile(ctx, mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{
			types.Field("z", types.Real),
			types.Field("b", types.Text),
			types.Field("a", types.Blob),
		},
	}))
	require.NoError(t, err)
	require.Equal(t, []string{
		"ALTER TABLE T ADD COLUMN z REAL",
		"ALTER TABLE T ADD COLUMN a BLOB",
	}, applied.Statements())

	// existing columns keep their position; added ones go last
	live, err := db.catalog.LookupTable(ctx, "T")
	require.NoError(t, err)
	require.Equal(t, "CREATE TABLE T(b TEXT, z REAL, a BLOB)", live.SQL)
}

func TestReconcile_LeavesUndeclaredColumns(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.engine.Execute(ctx, "CREATE TABLE Legacy(a INTEGER, retired TEXT)"))

	applied, err := db.reconciler.Reconcile(ctx, mustBuild(t, "Legacy", types.Model{
		Fields: []types.FieldDescriptor{types.Field("a", types.Integer64)},
	}))
	require.NoError(t, err)
	require.True(t, applied.Empty())
	require.Equal(t, Present, applied.Initial)

	live, err := db.catalog.LookupTable(ctx, "Legacy")
	require.NoError(t, err)
	require.True(t, live.HasColumn("retired"))
}

func TestReconcile_TypeMismatchIsConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.engine.Execute(ctx, "CREATE TABLE T(a TEXT)"))

	applied, err := db.reconciler.Reconcile(ctx, mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{
			types.Field("a", types.Integer32),
			types.Field("b", types.Text),
		},
	}))
	require.Error(t, err)
	require.True(t, tferrors.IsSchemaConflict(err))
	require.Equal(t, tferrors.CodeTypeMismatch, tferrors.GetCode(err))
	// conflicts are found before anything is altered
	require.True(t, applied.Empty())
	require.Equal(t, Present, applied.Initial)
	require.Equal(t, Present, applied.Final)

	live, err := db.catalog.LookupTable(ctx, "T")
	require.NoError(t, err)
	require.False(t, live.HasColumn("b"))
}

func TestReconcile_TypeKeywordCaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.engine.Execute(ctx, "CREATE TABLE T(a integer, b Text)"))

	applied, err := db.reconciler.Reconcile(ctx, mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{
			types.Field("A", types.Integer64),
			types.Field("b", types.Text),
		},
	}))
	require.NoError(t, err)
	require.True(t, applied.Empty())
}

func TestReconcile_MissingPrimaryKeyIsConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.engine.Execute(ctx, "CREATE TABLE T(a TEXT)"))

	_, err := db.reconciler.Reconcile(ctx, mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{
			types.PrimaryKey("id", types.Integer64, types.OrderNone, true),
			types.Field("a", types.Text),
		},
	}))
	require.True(t, tferrors.IsSchemaConflict(err))
	require.Equal(t, tferrors.CodeColumnNotAdded, tferrors.GetCode(err))
}

func TestReconcile_CreateFailureIsEngineError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	s := mustBuild(t, "Broken", types.Model{
		Fields:      []types.FieldDescriptor{types.Field("a", types.Integer32)},
		Constraints: []types.ConstraintDescriptor{types.Check("BrokenCheck", "no_such_column > 0")},
	})

	applied, err := db.reconciler.Reconcile(ctx, s)
	require.Error(t, err)
	require.True(t, tferrors.IsEngineError(err))
	require.True(t, applied.Empty())
	require.Equal(t, Absent, applied.Initial)
	require.Equal(t, Absent, applied.Final)

	live, err := db.catalog.LookupTable(ctx, "Broken")
	require.NoError(t, err)
	require.Nil(t, live)
}

// fakeExec records statements; fail decides per statement whether to fail.
type fakeExec struct {
	stmts []string
	fail  func(stmt string) error
}

func (f *fakeExec) Execute(_ context.Context, stmt string) error {
	if f.fail != nil {
		if err := f.fail(stmt); err != nil {
			return err
		}
	}
	f.stmts = append(f.stmts, stmt)
	return nil
}

type fakeCatalog struct {
	tables  map[string]*types.LiveTable
	indexes map[string]*types.LiveIndex
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{tables: map[string]*types.LiveTable{}, indexes: map[string]*types.LiveIndex{}}
}

func (c *fakeCatalog) LookupTable(_ context.Context, name string) (*types.LiveTable, error) {
	return c.tables[name], nil
}

func (c *fakeCatalog) LookupIndex(_ context.Context, name string) (*types.LiveIndex, error) {
	return c.indexes[name], nil
}

func (c *fakeCatalog) put(name, sql string, cols ...types.LiveColumn) {
	c.tables[name] = &types.LiveTable{
		CatalogRow: types.CatalogRow{Type: types.ObjectTable, Name: name, TableName: name, SQL: sql},
		Columns:    cols,
	}
}

func engineErr(stmt, msg string) error {
	return tferrors.NewEngineError(tferrors.CodeExecFailed, "failed to execute "+stmt, errors.New(msg))
}

func TestReconcile_DuplicateColumnIsBenign(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("T", "CREATE TABLE T(a TEXT)", types.LiveColumn{Name: "a", Type: "TEXT"})

	exec := &fakeExec{fail: func(stmt string) error {
		if strings.HasPrefix(stmt, "ALTER TABLE T ADD COLUMN b") {
			// another writer got there first
			cat.tables["T"].Columns = append(cat.tables["T"].Columns, types.LiveColumn{CID: 1, Name: "b", Type: "INTEGER"})
			return engineErr(stmt, "duplicate column name: b")
		}
		return nil
	}}

	applied, err := New(exec, cat).Reconcile(context.Background(), mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{
			types.Field("a", types.Text),
			types.Field("b", types.Integer32),
			types.Field("c", types.Real),
		},
	}))
	require.NoError(t, err)
	require.Equal(t, []string{"ALTER TABLE T ADD COLUMN c REAL"}, applied.Statements())
}

func TestReconcile_DuplicateColumnWithOtherTypeIsConflict(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("T", "CREATE TABLE T(a TEXT)", types.LiveColumn{Name: "a", Type: "TEXT"})

	exec := &fakeExec{fail: func(stmt string) error {
		if strings.HasPrefix(stmt, "ALTER TABLE T ADD COLUMN b") {
			cat.tables["T"].Columns = append(cat.tables["T"].Columns, types.LiveColumn{CID: 1, Name: "b", Type: "BLOB"})
			return engineErr(stmt, "duplicate column name: b")
		}
		return nil
	}}

	_, err := New(exec, cat).Reconcile(context.Background(), mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{
			types.Field("a", types.Text),
			types.Field("b", types.Integer32),
		},
	}))
	require.True(t, tferrors.IsSchemaConflict(err))
	require.Equal(t, tferrors.CodeTypeMismatch, tferrors.GetCode(err))
}

func TestReconcile_PartialProgressIsKept(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("T", "CREATE TABLE T(a TEXT)", types.LiveColumn{Name: "a", Type: "TEXT"})

	exec := &fakeExec{fail: func(stmt string) error {
		if strings.HasPrefix(stmt, "ALTER TABLE T ADD COLUMN c") {
			return engineErr(stmt, "database is locked")
		}
		return nil
	}}

	applied, err := New(exec, cat).Reconcile(context.Background(), mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{
			types.Field("a", types.Text),
			types.Field("b", types.Integer32),
			types.Field("c", types.Real),
			types.Field("d", types.Blob),
		},
	}))
	require.Error(t, err)
	require.True(t, tferrors.IsEngineError(err))
	require.Equal(t, Diverged, applied.Initial)
	require.Equal(t, Diverged, applied.Final)
	require.Equal(t, []string{"ALTER TABLE T ADD COLUMN b INTEGER"}, applied.Statements())
	require.Equal(t, []string{"ALTER TABLE T ADD COLUMN b INTEGER"}, exec.stmts)
}

func TestReconcile_IndexAlreadyExistsIsBenign(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("T", "CREATE TABLE T(a TEXT)", types.LiveColumn{Name: "a", Type: "TEXT"})

	exec := &fakeExec{fail: func(stmt string) error {
		if strings.HasPrefix(stmt, "CREATE INDEX T_a") {
			return engineErr(stmt, "index T_a already exists")
		}
		return nil
	}}

	applied, err := New(exec, cat).Reconcile(context.Background(), mustBuild(t, "T", types.Model{
		Fields:  []types.FieldDescriptor{types.Field("a", types.Text)},
		Indexes: []types.IndexBinding{types.IndexBy("_a", "a")},
	}))
	require.NoError(t, err)
	require.True(t, applied.Empty())
}

func TestReconcile_ExistingIndexIsNotRecreated(t *testing.T) {
	cat := newFakeCatalog()
	cat.put("T", "CREATE TABLE T(a TEXT, b TEXT)",
		types.LiveColumn{Name: "a", Type: "TEXT"},
		types.LiveColumn{CID: 1, Name: "b", Type: "TEXT"})
	// same name, different columns: assumed consistent
	cat.indexes["T_index"] = &types.LiveIndex{CatalogRow: types.CatalogRow{
		Type: types.ObjectIndex, Name: "T_index", TableName: "T", SQL: "CREATE INDEX T_index ON T(b)",
	}}

	exec := &fakeExec{}
	applied, err := New(exec, cat).Reconcile(context.Background(), mustBuild(t, "T", types.Model{
		Fields:  []types.FieldDescriptor{types.Field("a", types.Text), types.Field("b", types.Text)},
		Indexes: []types.IndexBinding{types.IndexBy("", "a")},
	}))
	require.NoError(t, err)
	require.True(t, applied.Empty())
	require.Empty(t, exec.stmts)
}

func TestReconcile_TableCreatedConcurrently(t *testing.T) {
	cat := newFakeCatalog()
	exec := &fakeExec{fail: func(stmt string) error {
		if strings.HasPrefix(stmt, "CREATE TABLE T(") {
			cat.put("T", "CREATE TABLE T(a TEXT)", types.LiveColumn{Name: "a", Type: "TEXT"})
			return engineErr(stmt, "table T already exists")
		}
		return nil
	}}

	applied, err := New(exec, cat).Reconcile(context.Background(), mustBuild(t, "T", types.Model{
		Fields: []types.FieldDescriptor{types.Field("a", types.Text), types.Field("b", types.Real)},
	}))
	require.NoError(t, err)
	require.Equal(t, Diverged, applied.Initial)
	require.Equal(t, []string{"ALTER TABLE T ADD COLUMN b REAL"}, applied.Statements())
}

func TestReconcile_VirtualTables(t *testing.T) {
	virtual := mustBuild(t, "V", types.Model{
		Fields: []types.FieldDescriptor{types.Field("body", types.Text)},
		Virtual: &types.VirtualTableDescriptor{
			Module:    "fts3",
			Arguments: []types.ModuleArgument{{Key: "tokenize", Value: "porter"}},
		},
	})

	t.Run("absent virtual table is created", func(t *testing.T) {
		exec := &fakeExec{}
		applied, err := New(exec, newFakeCatalog()).Reconcile(context.Background(), virtual)
		require.NoError(t, err)
		require.Equal(t, []string{"CREATE VIRTUAL TABLE V USING fts3(body TEXT, tokenize=porter)"}, applied.Statements())
		require.Equal(t, OpCreateVirtualTable, applied.Operations[0].Kind)
	})

	t.Run("present virtual table with declared columns is left alone", func(t *testing.T) {
		cat := newFakeCatalog()
		// fts modules report columns without types
		cat.put("V", "CREATE VIRTUAL TABLE V USING fts3(body TEXT, extra TEXT, tokenize=porter)",
			types.LiveColumn{Name: "body"}, types.LiveColumn{CID: 1, Name: "extra"})
		exec := &fakeExec{}
		applied, err := New(exec, cat).Reconcile(context.Background(), virtual)
		require.NoError(t, err)
		require.True(t, applied.Empty())
		require.Equal(t, Present, applied.Final)
		require.Empty(t, exec.stmts)
	})

	t.Run("present virtual table missing a declared column is a conflict", func(t *testing.T) {
		cat := newFakeCatalog()
		cat.put("V", "CREATE VIRTUAL TABLE V USING fts3(other TEXT, tokenize=porter)",
			types.LiveColumn{Name: "other"})
		exec := &fakeExec{}
		applied, err := New(exec, cat).Reconcile(context.Background(), virtual)
		require.True(t, tferrors.IsSchemaConflict(err))
		require.Equal(t, tferrors.CodeColumnNotAdded, tferrors.GetCode(err))
		require.True(t, applied.Empty())
		require.Empty(t, exec.stmts)
	})

	t.Run("plain table under a virtual declaration is a conflict", func(t *testing.T) {
		cat := newFakeCatalog()
		cat.put("V", "CREATE TABLE V(body TEXT)", types.LiveColumn{Name: "body", Type: "TEXT"})
		_, err := New(&fakeExec{}, cat).Reconcile(context.Background(), virtual)
		require.True(t, tferrors.IsSchemaConflict(err))
		require.Equal(t, tferrors.CodeNotVirtualTable, tferrors.GetCode(err))
	})
}

func TestState_String(t *testing.T) {
	require.Equal(t, "absent", Absent.String())
	require.Equal(t, "present", Present.String())
	require.Equal(t, "diverged", Diverged.String())
	require.Equal(t, "State(9)", State(9).String())
}

// fieldsFromKinds declares one column per kind with stable names.
func fieldsFromKinds(kinds []int) []types.FieldDescriptor {
	fields := make([]types.FieldDescriptor, len(kinds))
	for i, k := range kinds {
		fields[i] = types.Field(fmt.Sprintf("c%d", i), types.FieldType(k%5+1))
	}
	return fields
}

func TestProperty_ReconcileIsAdditive(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("second declaration only adds columns and then converges", prop.ForAll(
		func(kinds []int, first, second int) bool {
			if first > len(kinds) || second > len(kinds) || first < 1 || second < 1 {
				return true
			}
			e, err := engine.Open(engine.Options{Path: ":memory:"})
			if err != nil {
				return false
			}
			defer e.Close()
			ctx := context.Background()
			cat := catalog.New(e.DB())
			r := New(e, cat)

			s1, err := schema.Build("P", types.Model{Fields: fieldsFromKinds(kinds[:first])})
			if err != nil {
				return false
			}
			s2, err := schema.Build("P", types.Model{Fields: fieldsFromKinds(kinds[:second])})
			if err != nil {
				return false
			}

			if _, err := r.Reconcile(ctx, s1); err != nil {
				return false
			}
			applied, err := r.Reconcile(ctx, s2)
			if err != nil {
				return false
			}

			added := second - first
			if added < 0 {
				added = 0
			}
			if len(applied.Operations) != added {
				return false
			}
			for _, stmt := range applied.Statements() {
				if !strings.HasPrefix(stmt, "ALTER TABLE P ADD COLUMN ") {
					return false
				}
			}

			live, err := cat.LookupTable(ctx, "P")
			if err != nil || live == nil {
				return false
			}
			want := first
			if second > want {
				want = second
			}
			if len(live.Columns) != want {
				return false
			}

			again, err := r.Reconcile(ctx, s2)
			return err == nil && again.Empty()
		},
		gen.SliceOfN(8, gen.IntRange(0, 4)),
		gen.IntRange(1, 8),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func TestManualOperations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.engine.Execute(ctx,
		"CREATE TABLE BaselineObject(anInt32 INTEGER PRIMARY KEY ASC AUTOINCREMENT, anInt64 INTEGER, aString TEXT, aData BLOB, aDouble REAL)"))

	require.NoError(t, db.reconciler.AddColumn(ctx, "BaselineObject", types.Field("newColumn", types.Integer32)))
	err := db.reconciler.AddColumn(ctx, "BaselineObject", types.Field("newColumn", types.Integer32))
	require.True(t, tferrors.IsDuplicateColumn(err), "manual add does not downgrade duplicates: %v", err)

	idx := types.IndexDescriptor{Name: "BaselineObject_index", Columns: []string{"aString", "aDouble"}}
	require.NoError(t, db.reconciler.CreateIndex(ctx, "BaselineObject", idx))
	live, err := db.catalog.LookupIndex(ctx, "BaselineObject_index")
	require.NoError(t, err)
	require.Equal(t, "CREATE INDEX BaselineObject_index ON BaselineObject(aString, aDouble)", live.SQL)

	require.NoError(t, db.reconciler.DropIndex(ctx, "BaselineObject_index"))
	live, err = db.catalog.LookupIndex(ctx, "BaselineObject_index")
	require.NoError(t, err)
	require.Nil(t, live)

	require.NoError(t, db.reconciler.DropTable(ctx, "BaselineObject"))
	table, err := db.catalog.LookupTable(ctx, "BaselineObject")
	require.NoError(t, err)
	require.Nil(t, table)

	err = db.reconciler.DropTable(ctx, "BaselineObject")
	require.True(t, tferrors.IsEngineError(err))
}
