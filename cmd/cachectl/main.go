// cachectl administers the shared memoization cache out-of-band: schema
// creation, expiry sweeps, full invalidation, and health reporting. It is
// safe to run all of it while normal cache traffic continues.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/wolffiex/peakcache/health"
	"github.com/wolffiex/peakcache/internal/config"
	"github.com/wolffiex/peakcache/internal/logging"
	"github.com/wolffiex/peakcache/metrics"
	"github.com/wolffiex/peakcache/store/postgres"
	"github.com/wolffiex/peakcache/sweep"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	logging.Init()

	app := &cli.Command{
		Name:  "cachectl",
		Usage: "administer the shared memoization cache",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a cachectl YAML config file",
			},
			&cli.StringFlag{
				Name:  "dsn",
				Usage: "Postgres connection string (overrides config and PEAKCACHE_DSN)",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			sweepCommand(),
			clearCommand(),
			statsCommand(),
			doctorCommand(),
			sweeperCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// openStore loads the effective config and connects to the backing store.
// The returned cleanup closes the connection pool.
func openStore(ctx context.Context, cmd *cli.Command) (*postgres.Store, config.Config, func(), error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	if dsn := cmd.String("dsn"); dsn != "" {
		cfg.DSN = dsn
	}
	if cfg.DSN == "" {
		return nil, config.Config{}, nil, errors.New("no DSN configured: use --dsn, PEAKCACHE_DSN, or a config file")
	}

	s, err := postgres.Open(ctx, cfg.DSN, metrics.NewRegistry())
	if err != nil {
		return nil, config.Config{}, nil, err
	}
	return s, cfg, func() { _ = s.Close() }, nil
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create the cache table and expiry index (idempotent)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, _, done, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer done()

			if err := s.EnsureSchema(ctx); err != nil {
				return err
			}
			fmt.Println("cache schema ready")
			return nil
		},
	}
}

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "delete expired entries",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, _, done, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer done()

			removed, err := s.SweepExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %s expired entries\n", humanize.Comma(removed))
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "delete every entry, expired or not (full invalidation)",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, _, done, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer done()

			removed, err := s.ClearAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %s entries\n", humanize.Comma(removed))
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "show row totals and expired backlog",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, _, done, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer done()

			st, err := s.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("entries: %s\n", humanize.Comma(st.Total))
			fmt.Printf("expired: %s\n", humanize.Comma(st.Expired))
			return nil
		},
	}
}

func doctorCommand() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "report on cache health",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, _, done, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer done()

			st, err := s.Stats(ctx)
			if err != nil {
				return err
			}

			report := health.NewAnalyzer().Analyze(st)
			fmt.Printf("status: %s\n", report.OverallStatus)
			fmt.Println(report.Summary)
			for i, signal := range report.Signals {
				fmt.Printf("  - %s\n    %s\n", signal, report.Recommendations[i])
			}
			return nil
		},
	}
}

func sweeperCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweeper",
		Usage: "run the periodic sweeper until interrupted",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, cfg, done, err := openStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer done()

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.WithField("interval", cfg.SweepInterval).Info("sweeper running")
			sweep.New(s, cfg.SweepInterval, metrics.NewRegistry(), log.Log).Start(ctx)
			return nil
		},
	}
}
