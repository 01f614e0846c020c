// Package reconcile converges the live database schema onto declared table
// schemas using additive-only DDL.
//
// A table moves through three states:
//
//	Absent   -> Present   CREATE TABLE (or CREATE VIRTUAL TABLE)
//	Present  -> Present   nothing to do
//	Diverged -> Present   ALTER TABLE ... ADD COLUMN per missing column
//
// Live columns that the declaration does not mention are left alone, and a
// present table is never re-created. Declared indexes are ensured separately.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/arkilian/tablefit/internal/ddl"
	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/pkg/types"
)

// Executor runs one DDL statement against the engine.
type Executor interface {
	Execute(ctx context.Context, stmt string) error
}

// Catalog reports live tables and indexes; nil results mean "absent".
type Catalog interface {
	LookupTable(ctx context.Context, name string) (*types.LiveTable, error)
	LookupIndex(ctx context.Context, name string) (*types.LiveIndex, error)
}

// State is the reconciliation state of one table.
type State int

const (
	Absent State = iota
	Present
	Diverged
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Diverged:
		return "diverged"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OpKind names the kind of an applied DDL operation.
type OpKind string

const (
	OpCreateTable        OpKind = "create_table"
	OpCreateVirtualTable OpKind = "create_virtual_table"
	OpAddColumn          OpKind = "add_column"
	OpCreateIndex        OpKind = "create_index"
	OpDropTable          OpKind = "drop_table"
	OpDropIndex          OpKind = "drop_index"
)

// Operation is one DDL statement that was executed successfully.
type Operation struct {
	Kind   OpKind `json:"kind"`
	Object string `json:"object"`
	SQL    string `json:"sql"`
}

// Applied records what one Reconcile call did. When Reconcile fails, Final
// is the state the table was left in.
type Applied struct {
	RunID      string      `json:"run_id"`
	Table      string      `json:"table"`
	Initial    State       `json:"initial"`
	Final      State       `json:"final"`
	Operations []Operation `json:"operations"`
}

// Empty reports whether no DDL was executed.
func (a *Applied) Empty() bool {
	return len(a.Operations) == 0
}

// Statements returns the executed SQL in execution order.
func (a *Applied) Statements() []string {
	stmts := make([]string, len(a.Operations))
	for i, op := range a.Operations {
		stmts[i] = op.SQL
	}
	return stmts
}

// Reconciler applies declared schemas to one database. It does no locking of
// its own: concurrent reconciliation of one table must be serialized by the
// caller, with the engine's "already exists" errors as the backstop.
type Reconciler struct {
	exec    Executor
	catalog Catalog
}

// New creates a reconciler over an executor and a catalog of the same database.
func New(exec Executor, catalog Catalog) *Reconciler {
	return &Reconciler{exec: exec, catalog: catalog}
}

// Reconcile brings the live table named by s in line with s. On failure the
// returned Applied still lists the statements that did run; nothing is
// rolled back.
func (r *Reconciler) Reconcile(ctx context.Context, s *types.TableSchema) (*Applied, error) {
	applied := &Applied{RunID: uuid.NewString(), Table: s.Name}

	live, err := r.catalog.LookupTable(ctx, s.Name)
	if err != nil {
		return applied, err
	}

	if live == nil {
		applied.Initial = Absent
		live, err = r.createTable(ctx, s, applied)
		if err != nil {
			return applied, err
		}
	} else {
		applied.Initial = Present
	}
	applied.Final = Present

	if live != nil {
		if err := r.fitColumns(ctx, s, live, applied); err != nil {
			return applied, err
		}
	}

	if err := r.ensureIndexes(ctx, s, applied); err != nil {
		return applied, err
	}

	if !applied.Empty() {
		log.Printf("reconcile: [%s] %s %s -> %s, %d statement(s)",
			shortID(applied.RunID), s.Name, applied.Initial, applied.Final, len(applied.Operations))
	}
	return applied, nil
}

// createTable emits the full CREATE statement. When another writer created
// the table first, the live table is returned so the caller fits columns.
func (r *Reconciler) createTable(ctx context.Context, s *types.TableSchema, applied *Applied) (*types.LiveTable, error) {
	kind := OpCreateTable
	if s.IsVirtual() {
		kind = OpCreateVirtualTable
	}
	stmt := ddl.CreateStatement(s)

	err := r.exec.Execute(ctx, stmt)
	if err == nil {
		r.record(applied, kind, s.Name, stmt)
		return nil, nil
	}
	if !tferrors.IsAlreadyExists(err) {
		return nil, err
	}

	live, lookupErr := r.catalog.LookupTable(ctx, s.Name)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if live == nil {
		return nil, err
	}
	log.Printf("[WARN] reconcile: [%s] table %s appeared concurrently, fitting columns instead",
		shortID(applied.RunID), s.Name)
	applied.Initial = Present
	return live, nil
}

// fitColumns adds declared columns missing from the live table. All conflicts
// are detected before the first ALTER TABLE runs.
func (r *Reconciler) fitColumns(ctx context.Context, s *types.TableSchema, live *types.LiveTable, applied *Applied) error {
	if s.IsVirtual() != live.IsVirtual() {
		return tferrors.NewSchemaConflict(tferrors.CodeNotVirtualTable,
			fmt.Sprintf("table %s: declared virtual=%v but live virtual=%v", s.Name, s.IsVirtual(), live.IsVirtual()))
	}
	if s.IsVirtual() {
		return checkVirtualColumns(s, live)
	}

	missing, err := diffColumns(s, live)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	if applied.Initial == Present {
		applied.Initial = Diverged
	}
	applied.Final = Diverged

	for _, f := range missing {
		stmt := ddl.AddColumn(s.Name, f)
		err := r.exec.Execute(ctx, stmt)
		if err == nil {
			r.record(applied, OpAddColumn, s.Name+"."+f.Name, stmt)
			continue
		}
		if !tferrors.IsDuplicateColumn(err) {
			return err
		}
		if err := r.confirmColumn(ctx, s.Name, f); err != nil {
			return err
		}
		log.Printf("[WARN] reconcile: [%s] column %s.%s already added by another writer",
			shortID(applied.RunID), s.Name, f.Name)
	}
	applied.Final = Present
	return nil
}

// checkVirtualColumns requires every declared column of a virtual table to
// exist. Modules fix their columns at creation and report no types, so only
// names are compared.
func checkVirtualColumns(s *types.TableSchema, live *types.LiveTable) error {
	for _, f := range s.Fields {
		if live.HasColumn(f.Name) {
			continue
		}
		return tferrors.NewSchemaConflict(tferrors.CodeColumnNotAdded,
			fmt.Sprintf("virtual table %s: column %s cannot be added to an existing virtual table", s.Name, f.Name)).
			WithDetails(map[string]interface{}{"table": s.Name, "column": f.Name})
	}
	return nil
}

// diffColumns returns declared fields absent from the live table, in
// declaration order, or a conflict when a present column disagrees.
func diffColumns(s *types.TableSchema, live *types.LiveTable) ([]types.FieldDescriptor, error) {
	var missing []types.FieldDescriptor
	for _, f := range s.Fields {
		col, ok := live.Column(f.Name)
		if !ok {
			if f.PrimaryKey {
				return nil, tferrors.NewSchemaConflict(tferrors.CodeColumnNotAdded,
					fmt.Sprintf("table %s: primary key column %s cannot be added to an existing table", s.Name, f.Name)).
					WithDetails(map[string]interface{}{"table": s.Name, "column": f.Name})
			}
			missing = append(missing, f)
			continue
		}
		if err := checkType(s.Name, f, col); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

func checkType(table string, f types.FieldDescriptor, col types.LiveColumn) error {
	if strings.EqualFold(strings.TrimSpace(col.Type), f.Type.Keyword()) {
		return nil
	}
	return tferrors.NewSchemaConflict(tferrors.CodeTypeMismatch,
		fmt.Sprintf("table %s: column %s is %s in the database but declared %s",
			table, f.Name, col.Type, f.Type.Keyword())).
		WithDetails(map[string]interface{}{
			"table":    table,
			"column":   f.Name,
			"live":     col.Type,
			"declared": f.Type.Keyword(),
		})
}

// confirmColumn treats a duplicate-column failure as benign only when the
// column that won the race has the declared type.
func (r *Reconciler) confirmColumn(ctx context.Context, table string, f types.FieldDescriptor) error {
	live, err := r.catalog.LookupTable(ctx, table)
	if err != nil {
		return err
	}
	if live == nil {
		return tferrors.NewInternalError(fmt.Sprintf("table %s vanished during reconciliation", table), nil)
	}
	col, ok := live.Column(f.Name)
	if !ok {
		return tferrors.NewInternalError(fmt.Sprintf("column %s.%s reported duplicate but not found", table, f.Name), nil)
	}
	return checkType(table, f, col)
}

// ensureIndexes creates declared indexes that are absent. An existing index
// with the same name is assumed to match; its columns are not compared.
func (r *Reconciler) ensureIndexes(ctx context.Context, s *types.TableSchema, applied *Applied) error {
	for _, idx := range s.Indexes {
		live, err := r.catalog.LookupIndex(ctx, idx.Name)
		if err != nil {
			return err
		}
		if live != nil {
			if !strings.EqualFold(live.TableName, s.Name) {
				log.Printf("[WARN] reconcile: index %s exists on table %s, declared on %s",
					idx.Name, live.TableName, s.Name)
			}
			continue
		}

		stmt := ddl.CreateIndex(s.Name, idx)
		if err := r.exec.Execute(ctx, stmt); err != nil {
			if tferrors.IsAlreadyExists(err) {
				log.Printf("[WARN] reconcile: [%s] index %s already created by another writer",
					shortID(applied.RunID), idx.Name)
				continue
			}
			return err
		}
		r.record(applied, OpCreateIndex, idx.Name, stmt)
	}
	return nil
}

func (r *Reconciler) record(applied *Applied, kind OpKind, object, stmt string) {
	applied.Operations = append(applied.Operations, Operation{Kind: kind, Object: object, SQL: stmt})
	log.Printf("reconcile: [%s] %s %s: %s", shortID(applied.RunID), kind, object, stmt)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
