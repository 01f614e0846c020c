package types

// DefaultIndexSuffix is appended to the table name when an index binding
// names neither an index nor a suffix.
const DefaultIndexSuffix = "_index"

// Model is a declared object model: ordered fields plus optional bindings.
// It is the input of the schema builder and is never sent to the engine.
type Model struct {
	Fields      []FieldDescriptor      `yaml:"fields"`
	Constraints []ConstraintDescriptor `yaml:"constraints"`
	Indexes     []IndexBinding         `yaml:"indexes"`
	Virtual     *VirtualTableDescriptor `yaml:"virtual"`
}

// IndexBinding declares an index on the model. The resolved name is Name when
// set, otherwise the table name followed by Suffix.
type IndexBinding struct {
	Name    string   `yaml:"name"`
	Suffix  string   `yaml:"suffix"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

// IndexBy declares an index named <table><suffix> over the given columns.
func IndexBy(suffix string, columns ...string) IndexBinding {
	return IndexBinding{Suffix: suffix, Columns: columns}
}

// Modeler is implemented by entity types that declare their table model.
type Modeler interface {
	TableModel() Model
}

// ModelFunc adapts a plain function to Modeler.
type ModelFunc func() Model

// TableModel implements Modeler.
func (f ModelFunc) TableModel() Model {
	return f()
}

// Field is shorthand for a plain column declaration.
func Field(name string, t FieldType) FieldDescriptor {
	return FieldDescriptor{Name: name, Type: t}
}

// PrimaryKey is shorthand for a primary key column.
func PrimaryKey(name string, t FieldType, order Order, autoIncrement bool) FieldDescriptor {
	return FieldDescriptor{Name: name, Type: t, PrimaryKey: true, Order: order, AutoIncrement: autoIncrement}
}
