package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
)

var (
	configPath = flag.String("config", "", "Path to a .yaml or .toml config file")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config")
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&syncCmd{}, "")
	commander.Register(&migrateCmd{}, "")
	commander.Register(&positionsCmd{}, "")
	commander.Register(&portfoliosCmd{}, "")

	flag.Parse()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}
