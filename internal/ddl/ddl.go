// Package ddl renders table schemas into canonical SQLite DDL text.
//
// Every function is pure: identical input yields byte-identical output, so
// callers may compare generated statements against the SQL stored in
// sqlite_master as exact strings.
package ddl

import (
	"strings"

	"github.com/arkilian/tablefit/pkg/types"
)

// ColumnClause renders "<name> <TYPE>[ PRIMARY KEY][ ASC|DESC][ AUTOINCREMENT]".
func ColumnClause(f types.FieldDescriptor) string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte(' ')
	b.WriteString(f.Type.Keyword())
	if f.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
		if kw := f.Order.Keyword(); kw != "" {
			b.WriteByte(' ')
			b.WriteString(kw)
		}
	}
	if f.AutoIncrement {
		b.WriteString(" AUTOINCREMENT")
	}
	return b.String()
}

// ConstraintClause renders a named UNIQUE or CHECK table constraint.
func ConstraintClause(c types.ConstraintDescriptor) string {
	switch c.Kind {
	case types.ConstraintUnique:
		return "CONSTRAINT " + c.Name + " UNIQUE(" + strings.Join(c.Columns, ", ") + ")"
	case types.ConstraintCheck:
		return "CONSTRAINT " + c.Name + " CHECK(" + c.Expression + ")"
	default:
		return ""
	}
}

// CreateTable renders the CREATE TABLE statement: columns in declaration
// order followed by table constraints in declaration order.
func CreateTable(s *types.TableSchema) string {
	clauses := make([]string, 0, len(s.Fields)+len(s.Constraints))
	for _, f := range s.Fields {
		clauses = append(clauses, ColumnClause(f))
	}
	for _, c := range s.Constraints {
		clauses = append(clauses, ConstraintClause(c))
	}
	return "CREATE TABLE " + s.Name + "(" + strings.Join(clauses, ", ") + ")"
}

// CreateIndex renders CREATE [UNIQUE ]INDEX for one index of table.
func CreateIndex(table string, idx types.IndexDescriptor) string {
	kw := "CREATE INDEX "
	if idx.Unique {
		kw = "CREATE UNIQUE INDEX "
	}
	return kw + idx.Name + " ON " + table + "(" + strings.Join(idx.Columns, ", ") + ")"
}

// CreateVirtualTable renders CREATE VIRTUAL TABLE ... USING <module>(...),
// columns first, then module arguments, both in declaration order.
func CreateVirtualTable(s *types.TableSchema) string {
	if s.Virtual == nil {
		return ""
	}
	args := make([]string, 0, len(s.Fields)+len(s.Virtual.Arguments))
	for _, f := range s.Fields {
		args = append(args, f.Name+" "+f.Type.Keyword())
	}
	for _, a := range s.Virtual.Arguments {
		args = append(args, a.Key+"="+a.Value)
	}
	return "CREATE VIRTUAL TABLE " + s.Name + " USING " + s.Virtual.Module + "(" + strings.Join(args, ", ") + ")"
}

// CreateStatement returns the table or virtual table statement for s.
func CreateStatement(s *types.TableSchema) string {
	if s.IsVirtual() {
		return CreateVirtualTable(s)
	}
	return CreateTable(s)
}

// AddColumn renders ALTER TABLE <table> ADD COLUMN <column-clause>.
func AddColumn(table string, f types.FieldDescriptor) string {
	return "ALTER TABLE " + table + " ADD COLUMN " + ColumnClause(f)
}

// DropTable renders DROP TABLE <name>.
func DropTable(name string) string {
	return "DROP TABLE " + name
}

// DropIndex renders DROP INDEX <name>.
func DropIndex(name string) string {
	return "DROP INDEX " + name
}
