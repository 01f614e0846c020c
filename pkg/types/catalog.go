package types

// Catalog object types as stored in sqlite_master.type.
const (
	ObjectTable = "table"
	ObjectIndex = "index"
)

// CatalogRow is one row of the engine's system catalog.
type CatalogRow struct {
	Type      string `db:"type" json:"type"`
	Name      string `db:"name" json:"name"`
	TableName string `db:"tbl_name" json:"tbl_name"`
	RootPage  int64  `db:"rootpage" json:"rootpage"`

	// SQL is the DDL text stored by the engine; empty for automatic indexes
	SQL string `db:"sql" json:"sql"`
}

// LiveColumn is one row of pragma_table_info.
type LiveColumn struct {
	CID        int     `db:"cid" json:"cid"`
	Name       string  `db:"name" json:"name"`
	Type       string  `db:"type" json:"type"`
	NotNull    bool    `db:"notnull" json:"notnull"`
	Default    *string `db:"dflt_value" json:"dflt_value,omitempty"`
	PrimaryKey int     `db:"pk" json:"pk"`
}

// LiveTable is a table as it currently exists in the database.
type LiveTable struct {
	CatalogRow
	Columns []LiveColumn
}

// Column returns the live column with the given name (case-insensitive).
func (t *LiveTable) Column(name string) (LiveColumn, bool) {
	for _, c := range t.Columns {
		if equalFold(c.Name, name) {
			return c, true
		}
	}
	return LiveColumn{}, false
}

// HasColumn reports whether the live table has the named column.
func (t *LiveTable) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// IsVirtual reports whether the stored DDL created a virtual table.
func (t *LiveTable) IsVirtual() bool {
	return hasPrefixFold(t.SQL, "CREATE VIRTUAL TABLE")
}

// LiveIndex is an index as it currently exists in the database.
type LiveIndex struct {
	CatalogRow
}
