// Package catalog reads table and index definitions from the live SQLite
// system catalog.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/pkg/types"
)

const (
	selectObjectSQL = `
		SELECT type, name, tbl_name, rootpage, COALESCE(sql, '') AS sql
		FROM sqlite_master
		WHERE name = ? COLLATE NOCASE`

	selectObjectByTypeSQL = `
		SELECT type, name, tbl_name, rootpage, COALESCE(sql, '') AS sql
		FROM sqlite_master
		WHERE type = ? AND name = ? COLLATE NOCASE`

	selectColumnsSQL = `
		SELECT cid, name, type, "notnull", dflt_value, pk
		FROM pragma_table_info(?)
		ORDER BY cid`

	listTablesSQL = `
		SELECT type, name, tbl_name, rootpage, COALESCE(sql, '') AS sql
		FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		ORDER BY name`

	listIndexesSQL = `
		SELECT type, name, tbl_name, rootpage, COALESCE(sql, '') AS sql
		FROM sqlite_master
		WHERE type = 'index' AND tbl_name = ? COLLATE NOCASE
		ORDER BY name`
)

// Introspector answers catalog lookups. Absent objects are reported as nil
// results, never as errors.
type Introspector struct {
	q sqlx.QueryerContext
}

// New creates an introspector over an open connection.
func New(q sqlx.QueryerContext) *Introspector {
	return &Introspector{q: q}
}

// QueryCatalog returns the sqlite_master row for name, or nil when absent.
func (i *Introspector) QueryCatalog(ctx context.Context, name string) (*types.CatalogRow, error) {
	var row types.CatalogRow
	if err := sqlx.GetContext(ctx, i.q, &row, selectObjectSQL, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, queryErr("catalog lookup of "+name, err)
	}
	return &row, nil
}

// LookupTable returns the stored DDL and live columns of a table, or nil
// when the table does not exist.
func (i *Introspector) LookupTable(ctx context.Context, name string) (*types.LiveTable, error) {
	row, err := i.lookup(ctx, types.ObjectTable, name)
	if err != nil || row == nil {
		return nil, err
	}

	var columns []types.LiveColumn
	if err := sqlx.SelectContext(ctx, i.q, &columns, selectColumnsSQL, row.Name); err != nil {
		return nil, queryErr("column lookup of "+name, err)
	}
	return &types.LiveTable{CatalogRow: *row, Columns: columns}, nil
}

// LookupIndex returns the stored DDL of an index, or nil when absent.
func (i *Introspector) LookupIndex(ctx context.Context, name string) (*types.LiveIndex, error) {
	row, err := i.lookup(ctx, types.ObjectIndex, name)
	if err != nil || row == nil {
		return nil, err
	}
	return &types.LiveIndex{CatalogRow: *row}, nil
}

// ListTables returns every user table in name order.
func (i *Introspector) ListTables(ctx context.Context) ([]types.CatalogRow, error) {
	var rows []types.CatalogRow
	if err := sqlx.SelectContext(ctx, i.q, &rows, listTablesSQL); err != nil {
		return nil, queryErr("table listing", err)
	}
	return rows, nil
}

// ListIndexes returns every index of a table in name order, including
// automatic indexes (whose SQL is empty).
func (i *Introspector) ListIndexes(ctx context.Context, table string) ([]types.CatalogRow, error) {
	var rows []types.CatalogRow
	if err := sqlx.SelectContext(ctx, i.q, &rows, listIndexesSQL, table); err != nil {
		return nil, queryErr("index listing of "+table, err)
	}
	return rows, nil
}

func (i *Introspector) lookup(ctx context.Context, objectType, name string) (*types.CatalogRow, error) {
	var row types.CatalogRow
	if err := sqlx.GetContext(ctx, i.q, &row, selectObjectByTypeSQL, objectType, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, queryErr(fmt.Sprintf("%s lookup of %s", objectType, name), err)
	}
	return &row, nil
}

func queryErr(what string, err error) error {
	return tferrors.NewEngineError(tferrors.CodeQueryFailed, "catalog: "+what+" failed", err)
}
