// Package schema turns declared object models into immutable table schemas.
package schema

import (
	"fmt"
	"strings"

	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/pkg/types"
)

// Build validates a declared model and resolves it into a TableSchema for the
// named table. Field, constraint and index order follow declaration order.
func Build(table string, m types.Model) (*types.TableSchema, error) {
	if !ValidateIdentifier(table) {
		return nil, tferrors.NewModelError(tferrors.CodeInvalidName,
			fmt.Sprintf("invalid table name %q", table))
	}

	fields, err := buildFields(table, m.Fields)
	if err != nil {
		return nil, err
	}
	s := &types.TableSchema{Name: table, Fields: fields}

	// Constraint and index names share one namespace per table.
	names := make(map[string]string)
	claim := func(kind, name string) error {
		key := strings.ToLower(name)
		if prev, ok := names[key]; ok {
			return tferrors.NewModelError(tferrors.CodeNameCollision,
				fmt.Sprintf("table %s: %s name %q collides with %s", table, kind, name, prev))
		}
		names[key] = kind + " " + name
		return nil
	}

	for _, c := range m.Constraints {
		resolved, err := buildConstraint(s, c)
		if err != nil {
			return nil, err
		}
		if err := claim("constraint", resolved.Name); err != nil {
			return nil, err
		}
		s.Constraints = append(s.Constraints, resolved)
	}

	for _, b := range m.Indexes {
		idx, err := buildIndex(s, b)
		if err != nil {
			return nil, err
		}
		if err := claim("index", idx.Name); err != nil {
			return nil, err
		}
		s.Indexes = append(s.Indexes, idx)
	}

	if m.Virtual != nil {
		if len(s.Constraints) > 0 || len(s.Indexes) > 0 {
			return nil, tferrors.NewModelError(tferrors.CodeInvalidVirtualTable,
				fmt.Sprintf("table %s: virtual tables take no constraints or indexes", table))
		}
		v, err := buildVirtual(table, m.Virtual)
		if err != nil {
			return nil, err
		}
		s.Virtual = v
	}

	return s, nil
}

// BuildFromDefs builds a plain table from explicit column definitions and
// table constraints, without index or virtual-table bindings.
func BuildFromDefs(table string, fields []types.FieldDescriptor, constraints []types.ConstraintDescriptor) (*types.TableSchema, error) {
	return Build(table, types.Model{Fields: fields, Constraints: constraints})
}

// BuildModel is Build over a Modeler.
func BuildModel(table string, m types.Modeler) (*types.TableSchema, error) {
	if m == nil {
		return nil, tferrors.NewModelError(tferrors.CodeInvalidName,
			fmt.Sprintf("table %s: nil model", table))
	}
	return Build(table, m.TableModel())
}

func buildFields(table string, declared []types.FieldDescriptor) ([]types.FieldDescriptor, error) {
	if len(declared) == 0 {
		return nil, tferrors.NewModelError(tferrors.CodeInvalidName,
			fmt.Sprintf("table %s: model declares no fields", table))
	}

	fields := make([]types.FieldDescriptor, 0, len(declared))
	seen := make(map[string]bool, len(declared))
	primaryKeys := 0
	autoIncrements := 0

	for _, f := range declared {
		if !ValidateIdentifier(f.Name) {
			return nil, tferrors.NewModelError(tferrors.CodeInvalidName,
				fmt.Sprintf("table %s: invalid field name %q", table, f.Name))
		}
		if f.Type.Keyword() == "" {
			return nil, tferrors.NewModelError(tferrors.CodeInvalidName,
				fmt.Sprintf("table %s: field %s has no storage type", table, f.Name))
		}
		key := strings.ToLower(f.Name)
		if seen[key] {
			return nil, tferrors.NewModelError(tferrors.CodeDuplicateField,
				fmt.Sprintf("table %s: field %s declared twice", table, f.Name))
		}
		seen[key] = true

		if f.PrimaryKey {
			primaryKeys++
		} else if f.Order != types.OrderNone {
			return nil, tferrors.NewModelError(tferrors.CodePrimaryKey,
				fmt.Sprintf("table %s: field %s declares an order but is not the primary key", table, f.Name))
		}
		if f.AutoIncrement {
			autoIncrements++
			if !f.PrimaryKey {
				return nil, tferrors.NewModelError(tferrors.CodeAutoIncrement,
					fmt.Sprintf("table %s: autoincrement field %s is not the primary key", table, f.Name))
			}
			if !f.Type.IsInteger() {
				return nil, tferrors.NewModelError(tferrors.CodeAutoIncrement,
					fmt.Sprintf("table %s: autoincrement field %s must be an integer", table, f.Name))
			}
		}
		fields = append(fields, f)
	}

	if autoIncrements > 1 {
		return nil, tferrors.NewModelError(tferrors.CodeAutoIncrement,
			fmt.Sprintf("table %s: %d autoincrement fields declared, at most one allowed", table, autoIncrements))
	}
	if primaryKeys > 1 {
		return nil, tferrors.NewModelError(tferrors.CodePrimaryKey,
			fmt.Sprintf("table %s: %d primary key fields declared, at most one allowed", table, primaryKeys))
	}
	return fields, nil
}

func buildConstraint(s *types.TableSchema, c types.ConstraintDescriptor) (types.ConstraintDescriptor, error) {
	if !ValidateIdentifier(c.Name) {
		return c, tferrors.NewModelError(tferrors.CodeInvalidName,
			fmt.Sprintf("table %s: invalid constraint name %q", s.Name, c.Name))
	}

	kind := c.Kind
	if kind == 0 {
		// Model files say which clause they carry instead of naming a kind.
		switch {
		case len(c.Columns) > 0 && c.Expression == "":
			kind = types.ConstraintUnique
		case c.Expression != "" && len(c.Columns) == 0:
			kind = types.ConstraintCheck
		default:
			return c, tferrors.NewModelError(tferrors.CodeInvalidConstraint,
				fmt.Sprintf("table %s: constraint %s must declare exactly one of unique or check", s.Name, c.Name))
		}
	}

	out := types.ConstraintDescriptor{Name: c.Name, Kind: kind}
	switch kind {
	case types.ConstraintUnique:
		cols, err := resolveColumns(s, "constraint "+c.Name, c.Columns)
		if err != nil {
			return c, err
		}
		out.Columns = cols
	case types.ConstraintCheck:
		expr := strings.TrimSpace(c.Expression)
		if expr == "" {
			return c, tferrors.NewModelError(tferrors.CodeInvalidConstraint,
				fmt.Sprintf("table %s: check constraint %s has no expression", s.Name, c.Name))
		}
		out.Expression = expr
	default:
		return c, tferrors.NewModelError(tferrors.CodeInvalidConstraint,
			fmt.Sprintf("table %s: constraint %s has unknown kind %d", s.Name, c.Name, kind))
	}
	return out, nil
}

func buildIndex(s *types.TableSchema, b types.IndexBinding) (types.IndexDescriptor, error) {
	name := b.Name
	if name == "" {
		suffix := b.Suffix
		if suffix == "" {
			suffix = types.DefaultIndexSuffix
		}
		name = s.Name + suffix
	}
	if !ValidateIdentifier(name) {
		return types.IndexDescriptor{}, tferrors.NewModelError(tferrors.CodeInvalidName,
			fmt.Sprintf("table %s: invalid index name %q", s.Name, name))
	}
	cols, err := resolveColumns(s, "index "+name, b.Columns)
	if err != nil {
		return types.IndexDescriptor{}, err
	}
	return types.IndexDescriptor{Name: name, Columns: cols, Unique: b.Unique}, nil
}

// resolveColumns checks that every referenced column is a declared field and
// returns the names spelled as declared.
func resolveColumns(s *types.TableSchema, owner string, columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, tferrors.NewModelError(tferrors.CodeUnknownColumn,
			fmt.Sprintf("table %s: %s lists no columns", s.Name, owner))
	}
	out := make([]string, len(columns))
	for i, col := range columns {
		f, ok := s.Field(col)
		if !ok {
			return nil, tferrors.NewModelError(tferrors.CodeUnknownColumn,
				fmt.Sprintf("table %s: %s references unknown column %q", s.Name, owner, col))
		}
		out[i] = f.Name
	}
	return out, nil
}

func buildVirtual(table string, v *types.VirtualTableDescriptor) (*types.VirtualTableDescriptor, error) {
	if !ValidateIdentifier(v.Module) {
		return nil, tferrors.NewModelError(tferrors.CodeInvalidVirtualTable,
			fmt.Sprintf("table %s: invalid virtual table module %q", table, v.Module))
	}
	out := &types.VirtualTableDescriptor{Module: v.Module}
	for _, a := range v.Arguments {
		if strings.TrimSpace(a.Key) == "" {
			return nil, tferrors.NewModelError(tferrors.CodeInvalidVirtualTable,
				fmt.Sprintf("table %s: module argument with empty key", table))
		}
		out.Arguments = append(out.Arguments, a)
	}
	return out, nil
}
