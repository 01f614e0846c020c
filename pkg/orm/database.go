// Package orm is the public entry point: a Database wraps one SQLite file and
// creates, fits and drops tables from declared models.
//
// Creating a table that already exists never fails because of it: missing
// columns and indexes are added, nothing is dropped.
package orm

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/arkilian/tablefit/internal/catalog"
	"github.com/arkilian/tablefit/internal/engine"
	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/internal/journal"
	"github.com/arkilian/tablefit/internal/observability"
	"github.com/arkilian/tablefit/internal/reconcile"
	"github.com/arkilian/tablefit/internal/schema"
	"github.com/arkilian/tablefit/pkg/types"
)

// TokenizeArgument is the module argument a tokenizer is bound to.
const TokenizeArgument = "tokenize"

type options struct {
	busyTimeout time.Duration
	journalMode string
	tokenizer   string
	journal     *journal.Journal
}

// Option configures Open.
type Option func(*options)

// WithBusyTimeout bounds how long DDL waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithJournalMode sets SQLite's journal mode, e.g. "WAL".
func WithJournalMode(mode string) Option {
	return func(o *options) { o.journalMode = mode }
}

// WithTokenizer sets the default tokenizer for virtual tables whose model
// does not name one.
func WithTokenizer(name string) Option {
	return func(o *options) { o.tokenizer = name }
}

// WithJournal records every created or fitted schema in j.
func WithJournal(j *journal.Journal) Option {
	return func(o *options) { o.journal = j }
}

// Database is one SQLite database file.
type Database struct {
	engine     *engine.Engine
	catalog    *catalog.Introspector
	reconciler *reconcile.Reconciler
	tokenizer  string
	journal    *journal.Journal
	stats      *observability.DDLStats
}

// Open opens the database at path, creating the file if needed.
func Open(path string, opts ...Option) (*Database, error) {
	o := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	e, err := engine.Open(engine.Options{
		Path:        path,
		BusyTimeout: o.busyTimeout,
		JournalMode: o.journalMode,
	})
	if err != nil {
		return nil, err
	}

	cat := catalog.New(e.DB())
	return &Database{
		engine:     e,
		catalog:    cat,
		reconciler: reconcile.New(e, cat),
		tokenizer:  o.tokenizer,
		journal:    o.journal,
		stats:      observability.NewDDLStats(0),
	}, nil
}

// Path returns the database file path.
func (db *Database) Path() string {
	return db.engine.Path()
}

// Close closes the database. A journal passed with WithJournal stays open.
func (db *Database) Close() error {
	return db.engine.Close()
}

// CreateTable creates the table named name from m, or fits an existing
// table to it.
func (db *Database) CreateTable(ctx context.Context, name string, m types.Modeler) (*reconcile.Applied, error) {
	s, err := schema.BuildModel(name, m)
	if err != nil {
		return nil, err
	}
	if s.IsVirtual() {
		return nil, tferrors.NewModelError(tferrors.CodeInvalidVirtualTable,
			fmt.Sprintf("table %s: model declares a virtual table; use CreateVirtualTable", name))
	}
	return db.apply(ctx, s)
}

// CreateVirtualTable creates the virtual table named name from m. A
// non-empty tokenizer, or else the database default, fills the tokenize
// argument when the model does not set one.
func (db *Database) CreateVirtualTable(ctx context.Context, name string, m types.Modeler, tokenizer string) (*reconcile.Applied, error) {
	if m == nil {
		return nil, tferrors.NewModelError(tferrors.CodeInvalidVirtualTable,
			fmt.Sprintf("table %s: model is nil", name))
	}
	model := m.TableModel()
	if model.Virtual == nil {
		return nil, tferrors.NewModelError(tferrors.CodeInvalidVirtualTable,
			fmt.Sprintf("table %s: model has no virtual table binding", name))
	}

	if tokenizer == "" {
		tokenizer = db.tokenizer
	}

	s, err := schema.Build(name, BindTokenizer(model, tokenizer))
	if err != nil {
		return nil, err
	}
	return db.apply(ctx, s)
}

// BindTokenizer returns m with a tokenize argument for tokenizer added to
// its virtual table binding. Models that are not virtual, or that already
// name a tokenizer, are returned unchanged. m itself is not modified.
func BindTokenizer(m types.Model, tokenizer string) types.Model {
	if m.Virtual == nil || tokenizer == "" {
		return m
	}
	if _, ok := m.Virtual.Argument(TokenizeArgument); ok {
		return m
	}
	v := *m.Virtual
	v.Arguments = append(append([]types.ModuleArgument(nil), v.Arguments...),
		types.ModuleArgument{Key: TokenizeArgument, Value: tokenizer})
	m.Virtual = &v
	return m
}

// CreateTableWith creates a table from explicit column definitions and
// table constraints.
func (db *Database) CreateTableWith(ctx context.Context, name string, fields []types.FieldDescriptor, constraints []types.ConstraintDescriptor) (*reconcile.Applied, error) {
	s, err := schema.BuildFromDefs(name, fields, constraints)
	if err != nil {
		return nil, err
	}
	return db.apply(ctx, s)
}

// Apply reconciles an already built schema.
func (db *Database) Apply(ctx context.Context, s *types.TableSchema) (*reconcile.Applied, error) {
	return db.apply(ctx, s)
}

func (db *Database) apply(ctx context.Context, s *types.TableSchema) (*reconcile.Applied, error) {
	applied, err := db.reconciler.Reconcile(ctx, s)
	if applied != nil {
		for _, op := range applied.Operations {
			db.stats.RecordOperation(s.Name, string(op.Kind))
		}
	}
	if err != nil {
		if tferrors.IsSchemaConflict(err) {
			db.stats.RecordConflict(s.Name, tferrors.GetCode(err))
		}
		return applied, err
	}
	if db.journal != nil {
		if _, _, err := db.journal.Record(ctx, s, applied); err != nil {
			log.Printf("[WARN] orm: table %s fitted but not journaled: %v", s.Name, err)
			return applied, err
		}
	}
	return applied, nil
}

// AddColumn appends a column to an existing table.
func (db *Database) AddColumn(ctx context.Context, table string, f types.FieldDescriptor) error {
	if !schema.ValidateIdentifier(table) {
		return tferrors.NewModelError(tferrors.CodeInvalidName, fmt.Sprintf("invalid table name %q", table))
	}
	if !schema.ValidateIdentifier(f.Name) {
		return tferrors.NewModelError(tferrors.CodeInvalidName, fmt.Sprintf("invalid column name %q", f.Name))
	}
	if f.Type.Keyword() == "" {
		return tferrors.NewModelError(tferrors.CodeInvalidName,
			fmt.Sprintf("column %s.%s has no type", table, f.Name))
	}
	if f.PrimaryKey {
		return tferrors.NewModelError(tferrors.CodePrimaryKey,
			fmt.Sprintf("column %s.%s: a primary key cannot be added to an existing table", table, f.Name))
	}
	if err := db.reconciler.AddColumn(ctx, table, f); err != nil {
		return err
	}
	db.stats.RecordOperation(table, string(reconcile.OpAddColumn))
	return nil
}

// CreateIndex creates index name on table over columns, in order.
func (db *Database) CreateIndex(ctx context.Context, name, table string, columns ...string) error {
	return db.createIndex(ctx, types.IndexDescriptor{Name: name, Columns: columns}, table)
}

// CreateUniqueIndex is CreateIndex for a UNIQUE index.
func (db *Database) CreateUniqueIndex(ctx context.Context, name, table string, columns ...string) error {
	return db.createIndex(ctx, types.IndexDescriptor{Name: name, Columns: columns, Unique: true}, table)
}

func (db *Database) createIndex(ctx context.Context, idx types.IndexDescriptor, table string) error {
	for _, n := range append([]string{idx.Name, table}, idx.Columns...) {
		if !schema.ValidateIdentifier(n) {
			return tferrors.NewModelError(tferrors.CodeInvalidName, fmt.Sprintf("invalid identifier %q", n))
		}
	}
	if len(idx.Columns) == 0 {
		return tferrors.NewModelError(tferrors.CodeUnknownColumn,
			fmt.Sprintf("index %s has no columns", idx.Name))
	}
	if err := db.reconciler.CreateIndex(ctx, table, idx); err != nil {
		return err
	}
	db.stats.RecordOperation(table, string(reconcile.OpCreateIndex))
	return nil
}

// DropTable drops a table.
func (db *Database) DropTable(ctx context.Context, name string) error {
	if err := db.reconciler.DropTable(ctx, name); err != nil {
		return err
	}
	db.stats.RecordOperation(name, string(reconcile.OpDropTable))
	return nil
}

// DropIndex drops an index. Its activity is recorded under the index name.
func (db *Database) DropIndex(ctx context.Context, name string) error {
	if err := db.reconciler.DropIndex(ctx, name); err != nil {
		return err
	}
	db.stats.RecordOperation(name, string(reconcile.OpDropIndex))
	return nil
}

// Activity returns the DDL executed and fits refused through db since Open,
// most active tables first.
func (db *Database) Activity() []observability.TableStats {
	return db.stats.Top(math.MaxInt)
}

// GetTable returns a handle to an existing table, or nil if it does not exist.
func (db *Database) GetTable(ctx context.Context, name string) (*Table, error) {
	live, err := db.catalog.LookupTable(ctx, name)
	if err != nil || live == nil {
		return nil, err
	}
	return &Table{db: db, live: live}, nil
}

// GetMaster returns the catalog row of a table or index, or nil.
func (db *Database) GetMaster(ctx context.Context, name string) (*types.CatalogRow, error) {
	return db.catalog.QueryCatalog(ctx, name)
}

// Tables lists the catalog rows of all user tables.
func (db *Database) Tables(ctx context.Context) ([]types.CatalogRow, error) {
	return db.catalog.ListTables(ctx)
}

// Indexes lists the catalog rows of the indexes on table.
func (db *Database) Indexes(ctx context.Context, table string) ([]types.CatalogRow, error) {
	return db.catalog.ListIndexes(ctx, table)
}
