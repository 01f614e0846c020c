package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/pkg/types"
)

// NamedModel is one table declaration from a model file.
type NamedModel struct {
	Table string `yaml:"table"`
	types.Model `yaml:",inline"`
}

// TableModel implements types.Modeler.
func (n NamedModel) TableModel() types.Model {
	return n.Model
}

// modelFile is the on-disk layout of a model file:
//
//	tables:
//	  - table: BaselineObject
//	    fields:
//	      - {name: anInt32, type: int32, primary_key: true, order: asc, auto_increment: true}
//	      - {name: aString, type: text}
//	    indexes:
//	      - {suffix: _index, columns: [aString]}
type modelFile struct {
	Tables []NamedModel `yaml:"tables"`
}

// LoadModels reads a YAML model file.
func LoadModels(path string) ([]NamedModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: failed to read model file: %w", err)
	}
	return ParseModels(data)
}

// ParseModels decodes YAML model declarations. Table names must be unique,
// ignoring case as SQLite does.
func ParseModels(data []byte) ([]NamedModel, error) {
	var f modelFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, tferrors.Wrap(tferrors.ErrCategoryModel, tferrors.CodeInvalidName,
			"failed to parse model file", err)
	}

	seen := make(map[string]bool, len(f.Tables))
	for _, m := range f.Tables {
		key := strings.ToLower(m.Table)
		if seen[key] {
			return nil, tferrors.NewModelError(tferrors.CodeNameCollision,
				fmt.Sprintf("table %s declared twice in model file", m.Table))
		}
		seen[key] = true
	}
	return f.Tables, nil
}

// BuildAll builds every declared model, stopping at the first error.
func BuildAll(models []NamedModel) ([]*types.TableSchema, error) {
	schemas := make([]*types.TableSchema, 0, len(models))
	for _, m := range models {
		s, err := Build(m.Table, m.Model)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}
