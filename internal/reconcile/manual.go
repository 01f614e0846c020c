package reconcile

import (
	"context"
	"log"

	"github.com/arkilian/tablefit/internal/ddl"
	"github.com/arkilian/tablefit/pkg/types"
)

// AddColumn executes ALTER TABLE ... ADD COLUMN without consulting the
// catalog. Engine errors, including duplicate columns, are returned as is.
func (r *Reconciler) AddColumn(ctx context.Context, table string, f types.FieldDescriptor) error {
	return r.passThrough(ctx, OpAddColumn, table+"."+f.Name, ddl.AddColumn(table, f))
}

// CreateIndex executes CREATE INDEX for idx on table.
func (r *Reconciler) CreateIndex(ctx context.Context, table string, idx types.IndexDescriptor) error {
	return r.passThrough(ctx, OpCreateIndex, idx.Name, ddl.CreateIndex(table, idx))
}

// DropTable removes a table and its catalog row.
func (r *Reconciler) DropTable(ctx context.Context, name string) error {
	return r.passThrough(ctx, OpDropTable, name, ddl.DropTable(name))
}

// DropIndex removes an index and its catalog row.
func (r *Reconciler) DropIndex(ctx context.Context, name string) error {
	return r.passThrough(ctx, OpDropIndex, name, ddl.DropIndex(name))
}

func (r *Reconciler) passThrough(ctx context.Context, kind OpKind, object, stmt string) error {
	if err := r.exec.Execute(ctx, stmt); err != nil {
		return err
	}
	log.Printf("reconcile: %s %s: %s", kind, object, stmt)
	return nil
}
