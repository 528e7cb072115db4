package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/amirphl/portfolio-sync/internal/db"
	"github.com/google/subcommands"
	"github.com/jedib0t/go-pretty/v6/table"
)

type positionsCmd struct{}

func (*positionsCmd) Name() string { return "positions" }
func (*positionsCmd) Synopsis() string { return "list the stored positions of a portfolio" }
func (*positionsCmd) Usage() string {
	return `positions [portfolio]

  Prints the positions stored for a portfolio by the last sync.
`
}

func (*positionsCmd) SetFlags(*flag.FlagSet) {}

func (*positionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	name := resolvePortfolio(f.Arg(0), cfg.Portfolio, os.Stdin, os.Stdout)

	store, err := db.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer store.Close()

	portfolios, err := store.GetPortfolios(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	var id int64
	for _, p := range portfolios {
		if p.DisplayName == name {
			id = p.ID
		}
	}
	if id == 0 {
		fmt.Fprintf(os.Stderr, "portfolio %q is not tracked\n", name)
		return subcommands.ExitFailure
	}

	positions, err := store.GetPositions(ctx, id)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Position", "Instrument", "Symbol", "Direction", "Amount %", "Leverage", "Open Rate", "Opened", "Fingerprint"})
	for _, p := range positions {
		t.AppendRow(table.Row{
			p.PositionID, p.DisplayName, p.Symbol, p.Direction, p.Amount.String(), p.Leverage,
			p.OpenRate.String(), p.OpenDateTime.Format("2006-01-02 15:04"), shortFingerprint(p.Fingerprint),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "", "Total", len(positions)})
	fmt.Println(t.Render())
	return subcommands.ExitSuccess
}

type portfoliosCmd struct{}

func (*portfoliosCmd) Name() string { return "portfolios" }
func (*portfoliosCmd) Synopsis() string { return "list tracked portfolios" }
func (*portfoliosCmd) Usage() string { return "portfolios\n" }
func (*portfoliosCmd) SetFlags(*flag.FlagSet) {}

func (*portfoliosCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	store, err := db.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer store.Close()

	portfolios, err := store.GetPortfolios(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Portfolio", "Tracked Since", "Positions"})
	for _, p := range portfolios {
		n, err := store.CountPositions(ctx, p.ID)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return subcommands.ExitFailure
		}
		t.AppendRow(table.Row{p.ID, p.DisplayName, p.CreatedAt.Format("2006-01-02 15:04"), n})
	}
	fmt.Println(t.Render())
	return subcommands.ExitSuccess
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
