// Package journal keeps a versioned history of the schemas applied to a
// database. Each table gets a new version whenever its synthesized DDL
// changes; snapshots are stored snappy-compressed next to the statements
// that were executed to reach them.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/jmoiron/sqlx"

	"github.com/arkilian/tablefit/internal/catalog"
	"github.com/arkilian/tablefit/internal/ddl"
	"github.com/arkilian/tablefit/internal/engine"
	"github.com/arkilian/tablefit/internal/reconcile"
	"github.com/arkilian/tablefit/internal/schema"
	"github.com/arkilian/tablefit/pkg/types"
)

// HistoryTable is the journal's own table.
const HistoryTable = "schema_history"

// historyModel declares schema_history. The journal creates and evolves it
// with the same reconciler it records for.
var historyModel = types.Model{
	Fields: []types.FieldDescriptor{
		types.PrimaryKey("id", types.Integer64, types.OrderAscending, true),
		types.Field("table_name", types.Text),
		types.Field("version", types.Integer32),
		types.Field("fingerprint", types.Text),
		types.Field("snapshot", types.Blob),
		types.Field("statements", types.Text),
		types.Field("run_id", types.Text),
		types.Field("created_at", types.Integer64),
	},
	Constraints: []types.ConstraintDescriptor{
		types.Unique("schema_history_table_version", "table_name", "version"),
	},
	Indexes: []types.IndexBinding{
		types.IndexBy("_fingerprint", "table_name", "fingerprint"),
	},
}

// Entry is one recorded schema version of a table.
type Entry struct {
	ID          int64
	Table       string
	Version     int
	Fingerprint string
	Schema      types.TableSchema
	Statements  []string
	RunID       string
	CreatedAt   time.Time
}

type historyRow struct {
	ID          int64  `db:"id"`
	TableName   string `db:"table_name"`
	Version     int    `db:"version"`
	Fingerprint string `db:"fingerprint"`
	Snapshot    []byte `db:"snapshot"`
	Statements  string `db:"statements"`
	RunID       string `db:"run_id"`
	CreatedAt   int64  `db:"created_at"`
}

const selectColumns = "id, table_name, version, fingerprint, snapshot, statements, run_id, created_at"

// Journal records schema versions in a SQLite database.
type Journal struct {
	engine *engine.Engine
	db     *sqlx.DB
	owned  bool
}

// Open opens (or creates) a journal database file.
func Open(ctx context.Context, opts engine.Options) (*Journal, error) {
	e, err := engine.Open(opts)
	if err != nil {
		return nil, err
	}
	j, err := New(ctx, e)
	if err != nil {
		e.Close()
		return nil, err
	}
	j.owned = true
	return j, nil
}

// New creates a journal inside an already open database.
func New(ctx context.Context, e *engine.Engine) (*Journal, error) {
	s, err := schema.Build(HistoryTable, historyModel)
	if err != nil {
		return nil, err
	}
	r := reconcile.New(e, catalog.New(e.DB()))
	if _, err := r.Reconcile(ctx, s); err != nil {
		return nil, fmt.Errorf("journal: failed to prepare %s: %w", HistoryTable, err)
	}
	return &Journal{engine: e, db: e.DB()}, nil
}

// Close closes the journal database if the journal opened it.
func (j *Journal) Close() error {
	if j.owned {
		return j.engine.Close()
	}
	return nil
}

// Record stores s as the next version of its table unless the latest version
// already has the same fingerprint. The returned bool reports whether a new
// version was written. applied may be nil.
func (j *Journal) Record(ctx context.Context, s *types.TableSchema, applied *reconcile.Applied) (*Entry, bool, error) {
	latest, err := j.latest(ctx, s.Name)
	if err != nil {
		return nil, false, err
	}

	fingerprint := fmt.Sprintf("%016x", ddl.Fingerprint(s))
	if latest != nil && latest.Fingerprint == fingerprint {
		return latest, false, nil
	}

	version := 1
	if latest != nil {
		version = latest.Version + 1
	}

	schemaJSON, err := json.Marshal(s)
	if err != nil {
		return nil, false, fmt.Errorf("journal: failed to marshal schema %s: %w", s.Name, err)
	}

	var stmts []string
	var runID string
	if applied != nil {
		stmts = applied.Statements()
		runID = applied.RunID
	}
	if stmts == nil {
		stmts = []string{}
	}
	stmtsJSON, err := json.Marshal(stmts)
	if err != nil {
		return nil, false, fmt.Errorf("journal: failed to marshal statements: %w", err)
	}

	row := historyRow{
		TableName:   s.Name,
		Version:     version,
		Fingerprint: fingerprint,
		Snapshot:    snappy.Encode(nil, schemaJSON),
		Statements:  string(stmtsJSON),
		RunID:       runID,
		CreatedAt:   time.Now().Unix(),
	}
	res, err := j.db.NamedExecContext(ctx,
		`INSERT INTO schema_history (table_name, version, fingerprint, snapshot, statements, run_id, created_at)
		 VALUES (:table_name, :version, :fingerprint, :snapshot, :statements, :run_id, :created_at)`,
		row,
	)
	if err != nil {
		return nil, false, fmt.Errorf("journal: failed to insert %s version %d: %w", s.Name, version, err)
	}
	if row.ID, err = res.LastInsertId(); err != nil {
		return nil, false, fmt.Errorf("journal: failed to read entry id: %w", err)
	}

	entry, err := decode(row)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// CurrentVersion returns the latest version of table, or 0 if none.
func (j *Journal) CurrentVersion(ctx context.Context, table string) (int, error) {
	var version int
	err := j.db.GetContext(ctx, &version,
		"SELECT COALESCE(MAX(version), 0) FROM schema_history WHERE table_name = ?", table)
	if err != nil {
		return 0, fmt.Errorf("journal: failed to get current version of %s: %w", table, err)
	}
	return version, nil
}

// Get returns one version of a table.
func (j *Journal) Get(ctx context.Context, table string, version int) (*Entry, error) {
	var row historyRow
	err := j.db.GetContext(ctx, &row,
		"SELECT "+selectColumns+" FROM schema_history WHERE table_name = ? AND version = ?",
		table, version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("journal: %s version %d not found", table, version)
		}
		return nil, fmt.Errorf("journal: failed to get %s version %d: %w", table, version, err)
	}
	return decode(row)
}

// List returns every version of table in ascending order. An empty table
// name lists all tables.
func (j *Journal) List(ctx context.Context, table string) ([]Entry, error) {
	var rows []historyRow
	var err error
	if table == "" {
		err = j.db.SelectContext(ctx, &rows,
			"SELECT "+selectColumns+" FROM schema_history ORDER BY table_name, version")
	} else {
		err = j.db.SelectContext(ctx, &rows,
			"SELECT "+selectColumns+" FROM schema_history WHERE table_name = ? ORDER BY version", table)
	}
	if err != nil {
		return nil, fmt.Errorf("journal: failed to list versions: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := decode(row)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// ColumnDiff returns fields present in newVersion but absent in oldVersion.
func (j *Journal) ColumnDiff(ctx context.Context, table string, oldVersion, newVersion int) ([]types.FieldDescriptor, error) {
	oldEntry, err := j.Get(ctx, table, oldVersion)
	if err != nil {
		return nil, err
	}
	newEntry, err := j.Get(ctx, table, newVersion)
	if err != nil {
		return nil, err
	}

	var diff []types.FieldDescriptor
	for _, f := range newEntry.Schema.Fields {
		if _, ok := oldEntry.Schema.Field(f.Name); !ok {
			diff = append(diff, f)
		}
	}
	return diff, nil
}

func (j *Journal) latest(ctx context.Context, table string) (*Entry, error) {
	version, err := j.CurrentVersion(ctx, table)
	if err != nil || version == 0 {
		return nil, err
	}
	return j.Get(ctx, table, version)
}

func decode(row historyRow) (*Entry, error) {
	raw, err := snappy.Decode(nil, row.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("journal: corrupt snapshot for %s version %d: %w", row.TableName, row.Version, err)
	}
	e := &Entry{
		ID:          row.ID,
		Table:       row.TableName,
		Version:     row.Version,
		Fingerprint: row.Fingerprint,
		RunID:       row.RunID,
		CreatedAt:   time.Unix(row.CreatedAt, 0),
	}
	if err := json.Unmarshal(raw, &e.Schema); err != nil {
		return nil, fmt.Errorf("journal: failed to unmarshal schema for %s version %d: %w", row.TableName, row.Version, err)
	}
	if err := json.Unmarshal([]byte(row.Statements), &e.Statements); err != nil {
		return nil, fmt.Errorf("journal: failed to unmarshal statements for %s version %d: %w", row.TableName, row.Version, err)
	}
	return e, nil
}
