package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/amirphl/portfolio-sync/internal/config"
	"github.com/amirphl/portfolio-sync/internal/db"
	"github.com/google/subcommands"
)

type migrateCmd struct {
	schema string
}

func (*migrateCmd) Name() string { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create the Postgres database and apply the schema" }
func (*migrateCmd) Usage() string {
	return `migrate [-schema <path>]

  Creates the database named in db_conn_str if it is missing and applies the
  schema script. SQLite and memory storage create their tables on open.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.schema, "schema", "", "Schema script; defaults to schema_path from the config")
}

func (c *migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	if cfg.DBDriver != config.DriverPostgres {
		fmt.Printf("Nothing to migrate for driver %s\n", cfg.DBDriver)
		return subcommands.ExitSuccess
	}

	schema := c.schema
	if schema == "" {
		schema = cfg.SchemaPath
	}
	if err := db.Migrate(ctx, cfg.DBConnStr, schema); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
