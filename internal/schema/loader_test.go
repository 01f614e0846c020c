package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/pkg/types"
)

const modelsYAML = `
tables:
  - table: BaselineObject
    fields:
      - {name: anInt32, type: int32, primary_key: true, order: asc, auto_increment: true}
      - {name: anInt64, type: int64}
      - {name: aString, type: string}
      - {name: aData, type: data}
      - {name: aDouble, type: double}
  - table: ConstraintObject
    fields:
      - {name: variable1, type: int32}
      - {name: variable2, type: int32}
    constraints:
      - {name: ConstraintObjectConstraint, unique: [variable1, variable2]}
      - {name: positive, check: "variable1 > 0"}
    indexes:
      - {suffix: _index, columns: [variable2, variable1]}
  - table: VirtualTableObject
    fields:
      - {name: variable1, type: int32}
      - {name: variable2, type: int32}
    virtual:
      module: fts3
      arguments:
        - {key: tokenize, value: porter}
`

func TestParseModels(t *testing.T) {
	models, err := ParseModels([]byte(modelsYAML))
	require.NoError(t, err)
	require.Len(t, models, 3)

	schemas, err := BuildAll(models)
	require.NoError(t, err)

	baseline := schemas[0]
	require.Equal(t, "BaselineObject", baseline.Name)
	require.Equal(t, types.FieldDescriptor{
		Name: "anInt32", Type: types.Integer32, PrimaryKey: true,
		AutoIncrement: true, Order: types.OrderAscending,
	}, baseline.Fields[0])
	require.Equal(t, types.Text, baseline.Fields[2].Type)
	require.Equal(t, types.Blob, baseline.Fields[3].Type)
	require.Equal(t, types.Real, baseline.Fields[4].Type)

	constrained := schemas[1]
	require.Equal(t, types.ConstraintUnique, constrained.Constraints[0].Kind)
	require.Equal(t, types.ConstraintCheck, constrained.Constraints[1].Kind)
	require.Equal(t, "ConstraintObject_index", constrained.Indexes[0].Name)
	require.Equal(t, []string{"variable2", "variable1"}, constrained.Indexes[0].Columns)

	virtual := schemas[2]
	require.True(t, virtual.IsVirtual())
	tok, ok := virtual.Virtual.Argument("tokenize")
	require.True(t, ok)
	require.Equal(t, "porter", tok)
}

func TestParseModels_UnknownType(t *testing.T) {
	_, err := ParseModels([]byte("tables:\n  - table: t\n    fields:\n      - {name: a, type: uuid}\n"))
	require.Error(t, err)
	require.True(t, tferrors.IsModelError(err))
}

func TestParseModels_DuplicateTable(t *testing.T) {
	data := "tables:\n  - table: t\n    fields: [{name: a, type: text}]\n  - table: t\n    fields: [{name: b, type: text}]\n"
	_, err := ParseModels([]byte(data))
	require.Error(t, err)
	require.Equal(t, tferrors.CodeNameCollision, tferrors.GetCode(err))
}

func TestParseModels_DuplicateTableIgnoresCase(t *testing.T) {
	data := "tables:\n  - table: Foo\n    fields: [{name: a, type: text}]\n  - table: foo\n    fields: [{name: b, type: text}]\n"
	_, err := ParseModels([]byte(data))
	require.Error(t, err)
	require.Equal(t, tferrors.CodeNameCollision, tferrors.GetCode(err))
}

func TestLoadModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(modelsYAML), 0644))

	models, err := LoadModels(path)
	require.NoError(t, err)
	require.Equal(t, "ConstraintObject", models[1].Table)

	_, err = LoadModels(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
