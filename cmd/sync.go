package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/amirphl/portfolio-sync/internal/notifier"
	"github.com/amirphl/portfolio-sync/internal/position"
	"github.com/amirphl/portfolio-sync/internal/reconcile"
	"github.com/amirphl/portfolio-sync/internal/syncer"
	"github.com/amirphl/portfolio-sync/internal/utils"
	"github.com/google/subcommands"
	"github.com/jedib0t/go-pretty/v6/table"
)

type syncCmd struct {
	quiet bool
}

func (*syncCmd) Name() string { return "sync" }
func (*syncCmd) Synopsis() string { return "scrape a portfolio and reconcile the stored positions" }
func (*syncCmd) Usage() string {
	return `sync [-q] [portfolio]

  Fetches the open positions of an eToro portfolio, stores the ones that
  opened since the last run and removes the ones that closed. The portfolio
  is taken from the argument, then ETORO_USERNAME or the config file, and
  is asked for on stdin as a last resort.
`
}

func (c *syncCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.quiet, "q", false, "Do not print the change table")
}

func (c *syncCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	log := utils.GetLogger().Named("main")

	cfg, err := loadConfig()
	if err != nil {
		// No notifier can be built without a config.
		fail(ctx, &syncer.Service{Notifier: notifier.LogNotifier{}}, "", err)
		return subcommands.ExitFailure
	}

	name := resolvePortfolio(f.Arg(0), cfg.Portfolio, os.Stdin, os.Stdout)

	s, cleanup, err := newService(ctx, cfg)
	if err != nil {
		fail(ctx, &syncer.Service{Notifier: newNotifier(cfg)}, name, err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	res, err := s.Run(ctx, name)
	if cfg.PushgatewayURL != "" {
		if perr := s.Metrics.Push(ctx, cfg.PushgatewayURL, cfg.MetricsJob, name); perr != nil {
			log.Warnw("failed to push metrics", "error", perr)
		}
	}
	if err != nil {
		fail(ctx, s, name, err)
		return subcommands.ExitFailure
	}

	fmt.Printf("Sync completed: %d created, %d deleted\n", len(res.Delta.Inserted), len(res.Delta.Deleted))
	if !c.quiet && !res.Delta.Empty() {
		fmt.Println(renderDelta(res.Delta))
	}
	return subcommands.ExitSuccess
}

func fail(ctx context.Context, s *syncer.Service, name string, err error) {
	kind := s.HandleFailure(ctx, name, err)
	fmt.Fprintln(os.Stderr, notifier.FormatError(kind, err))
}

// resolvePortfolio picks the portfolio name: argument first, then the
// configured default, then a prompt on in.
func resolvePortfolio(arg, configured string, in io.Reader, out io.Writer) string {
	if name := strings.TrimSpace(arg); name != "" {
		return name
	}
	if name := strings.TrimSpace(configured); name != "" {
		return name
	}
	fmt.Fprint(out, "Enter eToro username: ")
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.TrimSpace(line)
}

func renderDelta(d reconcile.Delta) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"", "Instrument", "Symbol", "Position", "Direction", "Amount %", "Leverage", "Open Rate"})
	add := func(mark string, ps []position.Position) {
		for _, p := range ps {
			t.AppendRow(table.Row{mark, p.DisplayName, p.Symbol, p.PositionID, p.Direction, p.Amount.String(), p.Leverage, p.OpenRate.String()})
		}
	}
	add("+", d.Inserted)
	add("-", d.Deleted)
	t.AppendFooter(table.Row{"", "", "", "", "", fmt.Sprintf("%d added", len(d.Inserted)), fmt.Sprintf("%d removed", len(d.Deleted)), ""})
	return t.Render()
}
