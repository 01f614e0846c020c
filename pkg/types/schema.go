package types

import (
	"fmt"
	"strings"
)

// FieldType is the declared storage type of a model field.
type FieldType int

const (
	Integer32 FieldType = iota + 1
	Integer64
	Text
	Blob
	Real
)

// Keyword returns the SQLite type keyword used in column clauses.
func (t FieldType) Keyword() string {
	switch t {
	case Integer32, Integer64:
		return "INTEGER"
	case Text:
		return "TEXT"
	case Blob:
		return "BLOB"
	case Real:
		return "REAL"
	default:
		return ""
	}
}

// IsInteger reports whether the type maps to SQLite INTEGER.
func (t FieldType) IsInteger() bool {
	return t == Integer32 || t == Integer64
}

func (t FieldType) String() string {
	switch t {
	case Integer32:
		return "int32"
	case Integer64:
		return "int64"
	case Text:
		return "text"
	case Blob:
		return "blob"
	case Real:
		return "real"
	default:
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
}

// ParseFieldType accepts the names used in model files.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int32", "integer32":
		return Integer32, nil
	case "int64", "integer64", "int", "integer":
		return Integer64, nil
	case "text", "string":
		return Text, nil
	case "blob", "data", "bytes":
		return Blob, nil
	case "real", "double", "float":
		return Real, nil
	default:
		return 0, fmt.Errorf("unknown field type %q", s)
	}
}

// UnmarshalYAML lets model files spell types by name.
func (t *FieldType) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText keeps journal snapshots readable.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *FieldType) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Order is the optional direction token rendered after PRIMARY KEY.
type Order int

const (
	OrderNone Order = iota
	OrderAscending
	OrderDescending
)

// Keyword returns ASC, DESC or the empty string.
func (o Order) Keyword() string {
	switch o {
	case OrderAscending:
		return "ASC"
	case OrderDescending:
		return "DESC"
	default:
		return ""
	}
}

// UnmarshalYAML accepts "asc", "ascending", "desc", "descending" or "".
func (o *Order) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		*o = OrderNone
	case "asc", "ascending":
		*o = OrderAscending
	case "desc", "descending":
		*o = OrderDescending
	default:
		return fmt.Errorf("unknown order %q", s)
	}
	return nil
}

// FieldDescriptor is one column of a table schema.
type FieldDescriptor struct {
	// Name is unique within the table
	Name string `json:"name" yaml:"name"`

	// Type is the declared storage type
	Type FieldType `json:"type" yaml:"type"`

	// PrimaryKey renders a column-level PRIMARY KEY
	PrimaryKey bool `json:"primary_key,omitempty" yaml:"primary_key"`

	// AutoIncrement requires PrimaryKey and an integer type
	AutoIncrement bool `json:"auto_increment,omitempty" yaml:"auto_increment"`

	// Order is rendered only after PRIMARY KEY
	Order Order `json:"order,omitempty" yaml:"order"`
}

// ConstraintKind distinguishes table constraints.
type ConstraintKind int

const (
	ConstraintUnique ConstraintKind = iota + 1
	ConstraintCheck
)

// ConstraintDescriptor is a named table constraint.
type ConstraintDescriptor struct {
	Name string         `json:"name" yaml:"name"`
	Kind ConstraintKind `json:"kind" yaml:"-"`

	// Columns is used by unique constraints, in declaration order
	Columns []string `json:"columns,omitempty" yaml:"unique"`

	// Expression is used by check constraints, rendered verbatim
	Expression string `json:"expression,omitempty" yaml:"check"`
}

// Unique declares a multi-column unique constraint.
func Unique(name string, columns ...string) ConstraintDescriptor {
	return ConstraintDescriptor{Name: name, Kind: ConstraintUnique, Columns: columns}
}

// Check declares a check constraint over a SQL expression.
func Check(name, expression string) ConstraintDescriptor {
	return ConstraintDescriptor{Name: name, Kind: ConstraintCheck, Expression: expression}
}

// IndexDescriptor is a resolved index of a table schema.
type IndexDescriptor struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique,omitempty"`
}

// ModuleArgument is one key=value argument of a virtual table module.
type ModuleArgument struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// VirtualTableDescriptor binds a table to a virtual table module.
type VirtualTableDescriptor struct {
	Module    string           `json:"module" yaml:"module"`
	Arguments []ModuleArgument `json:"arguments,omitempty" yaml:"arguments"`
}

// Argument returns the value of the named module argument.
func (v *VirtualTableDescriptor) Argument(key string) (string, bool) {
	for _, a := range v.Arguments {
		if strings.EqualFold(a.Key, key) {
			return a.Value, true
		}
	}
	return "", false
}

// TableSchema is the immutable descriptor built from a declared model.
// Field order is column order in every synthesized statement.
type TableSchema struct {
	Name        string                  `json:"name"`
	Fields      []FieldDescriptor       `json:"fields"`
	Constraints []ConstraintDescriptor  `json:"constraints,omitempty"`
	Indexes     []IndexDescriptor       `json:"indexes,omitempty"`
	Virtual     *VirtualTableDescriptor `json:"virtual,omitempty"`
}

// IsVirtual reports whether the schema describes a virtual table.
func (s *TableSchema) IsVirtual() bool {
	return s.Virtual != nil
}

// Field returns the named field, matching names the way SQLite does.
func (s *TableSchema) Field(name string) (FieldDescriptor, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// ColumnNames returns field names in declaration order.
func (s *TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}
