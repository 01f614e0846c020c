// Command tablefit creates and fits SQLite tables from a YAML model file.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"github.com/arkilian/tablefit/internal/config"
	"github.com/arkilian/tablefit/internal/ddl"
	"github.com/arkilian/tablefit/internal/engine"
	tferrors "github.com/arkilian/tablefit/internal/errors"
	"github.com/arkilian/tablefit/internal/export"
	"github.com/arkilian/tablefit/internal/journal"
	"github.com/arkilian/tablefit/internal/schema"
	"github.com/arkilian/tablefit/internal/storage"
	"github.com/arkilian/tablefit/pkg/orm"
	"github.com/arkilian/tablefit/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `name:"config" short:"c" help:"Configuration file (YAML or JSON)" type:"existingfile"`
	DataDir  string `name:"data-dir" help:"Base directory for data files" type:"path"`
	Database string `name:"database" short:"d" help:"SQLite database file" type:"path"`
	Models   string `name:"models" short:"m" help:"YAML model file" type:"path"`

	out io.Writer
}

// CLI defines the command-line interface for tablefit.
type CLI struct {
	Globals

	DDL     DDLCmd     `cmd:"" name:"ddl" help:"Print the creation script of every model"`
	Apply   ApplyCmd   `cmd:"" help:"Create or fit every model's table in the database"`
	Inspect InspectCmd `cmd:"" help:"Show catalog entries"`
	Drop    DropGroup  `cmd:"" help:"Drop tables and indexes"`
	History HistoryCmd `cmd:"" help:"Show the schema history of a table"`
	Export  ExportCmd  `cmd:"" help:"Write creation scripts to export storage"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

// DropGroup contains drop pass-throughs.
type DropGroup struct {
	Table DropTableCmd `cmd:"" help:"Drop a table"`
	Index DropIndexCmd `cmd:"" help:"Drop an index"`
}

// loadConfig loads configuration from file, environment, and command line flags.
func (g *Globals) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if g.Config != "" {
		cfg, err = config.LoadFromFile(g.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// Apply environment variables
	config.LoadFromEnv(cfg)

	// Apply command line flags (highest priority)
	if g.DataDir != "" {
		cfg.DataDir = g.DataDir
	}
	if g.Database != "" {
		cfg.Database.Path = g.Database
	}
	if g.Models != "" {
		cfg.Models = g.Models
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadModels(cfg *config.Config) ([]schema.NamedModel, error) {
	if cfg.Models == "" {
		return nil, tferrors.NewConfigError("no model file given (use --models or TABLEFIT_MODELS)")
	}
	return schema.LoadModels(cfg.Models)
}

// buildSchemas builds every model with the configured default tokenizer bound.
func buildSchemas(cfg *config.Config, models []schema.NamedModel) ([]*types.TableSchema, error) {
	bound := make([]schema.NamedModel, len(models))
	for i, m := range models {
		bound[i] = schema.NamedModel{Table: m.Table, Model: orm.BindTokenizer(m.Model, cfg.Tokenizer)}
	}
	return schema.BuildAll(bound)
}

// openORM opens the main database with the configured engine settings.
func openORM(cfg *config.Config, extra ...orm.Option) (*orm.Database, error) {
	eo := cfg.EngineOptions()
	opts := append([]orm.Option{
		orm.WithBusyTimeout(eo.BusyTimeout),
		orm.WithJournalMode(eo.JournalMode),
	}, extra...)
	return orm.Open(eo.Path, opts...)
}

func openDatabase(ctx context.Context, cfg *config.Config) (*orm.Database, *journal.Journal, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	opts := []orm.Option{orm.WithTokenizer(cfg.Tokenizer)}

	var j *journal.Journal
	if cfg.Journal.Enabled {
		var err error
		j, err = journal.Open(ctx, cfg.JournalOptions())
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, orm.WithJournal(j))
	}

	db, err := openORM(cfg, opts...)
	if err != nil {
		if j != nil {
			j.Close()
		}
		return nil, nil, err
	}
	return db, j, nil
}

func openStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Export.Type {
	case "s3":
		return storage.NewS3Storage(ctx, cfg.Export.S3.Bucket, cfg.StorageS3Config())
	default:
		return storage.NewLocalStorage(cfg.Export.Path)
	}
}

// DDLCmd prints synthesized scripts without touching a database.
type DDLCmd struct{}

func (c *DDLCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	models, err := loadModels(cfg)
	if err != nil {
		return err
	}
	schemas, err := buildSchemas(cfg, models)
	if err != nil {
		return err
	}
	for _, s := range schemas {
		fmt.Fprintf(g.out, "-- %s (%016x)\n%s", s.Name, ddl.Fingerprint(s), ddl.Synthesize(s))
	}
	return nil
}

// ApplyCmd reconciles every model against the database.
type ApplyCmd struct {
	DryRun bool `name:"dry-run" help:"Only print the models that would be applied"`
}

func (c *ApplyCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	models, err := loadModels(cfg)
	if err != nil {
		return err
	}
	schemas, err := buildSchemas(cfg, models)
	if err != nil {
		return err
	}
	if c.DryRun {
		for _, s := range schemas {
			fmt.Fprintf(g.out, "would apply %s (%d column(s), %d index(es))\n", s.Name, len(s.Fields), len(s.Indexes))
		}
		return nil
	}

	ctx := context.Background()
	db, j, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if j != nil {
		defer j.Close()
	}

	for _, s := range schemas {
		applied, err := db.Apply(ctx, s)
		if err != nil {
			return fmt.Errorf("apply %s: %w", s.Name, err)
		}
		if applied.Empty() {
			fmt.Fprintf(g.out, "%s: up to date\n", s.Name)
			continue
		}
		fmt.Fprintf(g.out, "%s: %s -> %s\n", s.Name, applied.Initial, applied.Final)
		for _, stmt := range applied.Statements() {
			fmt.Fprintf(g.out, "  %s;\n", stmt)
		}
	}

	var executed int64
	activity := db.Activity()
	for _, a := range activity {
		executed += a.Operations
	}
	if executed > 0 {
		fmt.Fprintf(g.out, "%d statement(s) across %d table(s)\n", executed, len(activity))
	}
	return nil
}

// InspectCmd prints catalog rows.
type InspectCmd struct {
	Name string `arg:"" optional:"" help:"Table or index name (all tables when omitted)"`
}

func (c *InspectCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	db, err := openORM(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Name != "" {
		row, err := db.GetMaster(ctx, c.Name)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("%s: not found", c.Name)
		}
		fmt.Fprintf(g.out, "%s %s on %s\n%s\n", row.Type, row.Name, row.TableName, row.SQL)
		return nil
	}

	tables, err := db.Tables(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tTABLE\tSQL")
	for _, t := range tables {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Type, t.Name, t.TableName, t.SQL)
		indexes, err := db.Indexes(ctx, t.Name)
		if err != nil {
			return err
		}
		for _, idx := range indexes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", idx.Type, idx.Name, idx.TableName, idx.SQL)
		}
	}
	return w.Flush()
}

// DropTableCmd drops a table.
type DropTableCmd struct {
	Name string `arg:"" help:"Table name"`
}

func (c *DropTableCmd) Run(g *Globals) error {
	return withDatabase(g, func(ctx context.Context, db *orm.Database) error {
		return db.DropTable(ctx, c.Name)
	})
}

// DropIndexCmd drops an index.
type DropIndexCmd struct {
	Name string `arg:"" help:"Index name"`
}

func (c *DropIndexCmd) Run(g *Globals) error {
	return withDatabase(g, func(ctx context.Context, db *orm.Database) error {
		return db.DropIndex(ctx, c.Name)
	})
}

func withDatabase(g *Globals, fn func(context.Context, *orm.Database) error) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	db, err := openORM(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), db)
}

// HistoryCmd prints journaled versions.
type HistoryCmd struct {
	Table string `arg:"" optional:"" help:"Table name (all tables when omitted)"`
	SQL   bool   `name:"sql" help:"Also print the statements applied for each version"`
}

func (c *HistoryCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Journal.Enabled {
		return tferrors.NewConfigError("journal is disabled")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctx := context.Background()
	j, err := journal.Open(ctx, cfg.JournalOptions())
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(ctx, c.Table)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(g.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tVERSION\tFINGERPRINT\tCOLUMNS\tCREATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", e.Table, e.Version, e.Fingerprint, len(e.Schema.Fields),
			e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
		if c.SQL {
			for _, stmt := range e.Statements {
				fmt.Fprintf(w, "\t\t%s;\n", stmt)
			}
		}
	}
	return w.Flush()
}

// ExportCmd dumps the models' creation scripts to export storage.
type ExportCmd struct {
	Prefix string `name:"prefix" help:"Object prefix (defaults to export.prefix)"`
}

func (c *ExportCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	models, err := loadModels(cfg)
	if err != nil {
		return err
	}
	schemas, err := buildSchemas(cfg, models)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	prefix := c.Prefix
	if prefix == "" {
		prefix = cfg.Export.Prefix
	}
	m, err := export.Dump(ctx, store, prefix, schemas)
	if err != nil {
		return err
	}
	for _, t := range m.Tables {
		fmt.Fprintf(g.out, "%s\t%s\t%s\n", t.Table, t.Object, t.Fingerprint)
	}
	return nil
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	info := engine.GetInfo()
	fmt.Fprintf(g.out, "tablefit version %s (commit: %s)\n", version, commit)
	fmt.Fprintf(g.out, "sqlite driver: %s (%s)\n", info.Package, info.DriverType)
	return nil
}

func main() {
	cli := CLI{Globals: Globals{out: os.Stdout}}
	ctx := kong.Parse(&cli,
		kong.Name("tablefit"),
		kong.Description("Declared-schema reconciliation for embedded SQLite"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		log.Printf("tablefit: %v", err)
		os.Exit(1)
	}
}
