package ddl

import (
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/arkilian/tablefit/pkg/types"
)

// Script is the ordered list of statements that creates a schema from scratch.
type Script []string

// String joins the statements into one executable script.
func (s Script) String() string {
	if len(s) == 0 {
		return ""
	}
	return strings.Join(s, ";\n") + ";\n"
}

// Synthesize renders the full creation script for s: the table (or virtual
// table) statement, then one CREATE INDEX per declared index.
func Synthesize(s *types.TableSchema) Script {
	script := make(Script, 0, 1+len(s.Indexes))
	script = append(script, CreateStatement(s))
	for _, idx := range s.Indexes {
		script = append(script, CreateIndex(s.Name, idx))
	}
	return script
}

// Fingerprint hashes the synthesized script. Schemas that render the same
// DDL share a fingerprint.
func Fingerprint(s *types.TableSchema) uint64 {
	return murmur3.Sum64([]byte(Synthesize(s).String()))
}
