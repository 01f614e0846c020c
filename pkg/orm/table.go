package orm

import (
	"context"

	"github.com/arkilian/tablefit/pkg/types"
)

// Table is a handle to a table that existed when it was looked up.
type Table struct {
	db   *Database
	live *types.LiveTable
}

// Name returns the table name as stored in the catalog.
func (t *Table) Name() string {
	return t.live.Name
}

// SQL returns the stored CREATE statement.
func (t *Table) SQL() string {
	return t.live.SQL
}

// Columns returns the live columns in table order.
func (t *Table) Columns() []types.LiveColumn {
	return t.live.Columns
}

// IsVirtual reports whether the table is a virtual table.
func (t *Table) IsVirtual() bool {
	return t.live.IsVirtual()
}

// Refresh re-reads the table from the catalog. It returns nil once the table
// has been dropped.
func (t *Table) Refresh(ctx context.Context) (*Table, error) {
	return t.db.GetTable(ctx, t.live.Name)
}
