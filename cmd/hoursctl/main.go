/*
main.go - Operator command line

PURPOSE:
  Runs the hours bank batches and repairs by hand, against the same
  storage the server uses. Useful for backfills, after an outage, or when
  the scheduler is disabled.

COMMANDS:
  finalize          Finalize a day for every active user (default: yesterday)
  sweep-recoveries  Book recoveries whose date has passed
  accrue            Monthly vacation and permission accrual
  carryover         Close a year into the next one
  verify            Compare snapshots with the ledger, optionally repair
  rebuild-snapshot  Recompute one scope's snapshot from its entries
  reconcile         Print a user's total balance breakdown
  export            Write a user's year to an xlsx workbook

EXAMPLES:
  hoursctl finalize --date 2025-03-03
  hoursctl accrue --year 2025 --month 3
  hoursctl verify --repair
  hoursctl export --user alice --year 2025 --out alice-2025.xlsx

SEE ALSO:
  - app/app.go: Wiring
  - api/scheduler.go: The same batches on a timer
*/
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/warp/hoursbank/app"
	"github.com/warp/hoursbank/attendance"
	"github.com/warp/hoursbank/config"
	"github.com/warp/hoursbank/generic"
	"github.com/warp/hoursbank/report"
)

func main() {
	if err := run(os.Args[1:], app.Options{}, os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

// run executes one command and always releases the backends it opened.
func run(args []string, opts app.Options, out, errOut io.Writer) error {
	c := &cli{opts: opts}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)
	err := root.Execute()
	if c.hours != nil {
		if cerr := c.hours.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type cli struct {
	opts     app.Options
	dbPath   string
	driver   string
	logLevel string

	hours *app.App
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "hoursctl",
		Short:        "Operate the hours bank: batches, snapshot repair, exports",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.open(cmd)
		},
	}
	root.PersistentFlags().StringVar(&c.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")
	root.PersistentFlags().StringVar(&c.driver, "driver", "", "Ledger driver sqlite|postgres (overrides LEDGER_DRIVER)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	root.AddCommand(
		c.finalizeCmd(),
		c.sweepCmd(),
		c.accrueCmd(),
		c.carryoverCmd(),
		c.verifyCmd(),
		c.rebuildCmd(),
		c.reconcileCmd(),
		c.exportCmd(),
	)
	return root
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.Storage.DBPath = c.dbPath
	}
	if c.driver != "" {
		cfg.Storage.LedgerDriver = c.driver
	}
	if c.logLevel != "" {
		cfg.App.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.App.LogLevel)
	if err != nil {
		return err
	}
	// Results go to stdout, logs to stderr.
	logger.SetOutput(cmd.ErrOrStderr())

	c.hours, err = app.New(cmd.Context(), cfg, logger, c.opts)
	return err
}

func (c *cli) service() *attendance.Service { return c.hours.Service }

// ===== BATCHES =====

func (c *cli) finalizeCmd() *cobra.Command {
	var date, user string
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Finalize a day for every active user, or one user with --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := c.service().Yesterday()
			if date != "" {
				parsed, err := generic.ParseDate(date)
				if err != nil {
					return err
				}
				day = parsed
			}
			if user != "" {
				res, err := c.service().FinalizeDay(cmd.Context(), generic.UserID(user), day)
				if err != nil {
					return err
				}
				state := "finalized"
				if res.Skipped {
					state = "already finalized"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s, balance %s\n", user, day, state, res.Record.BalanceHours.String())
				return nil
			}
			sum, err := c.service().FinalizeAll(cmd.Context(), day)
			printSummary(cmd, "finalize "+day.String(), sum)
			return err
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to finalize YYYY-MM-DD (default: yesterday)")
	cmd.Flags().StringVar(&user, "user", "", "Only this user")
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-recoveries",
		Short: "Book approved recoveries whose date has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := c.service().SweepRecoveries(cmd.Context())
			printSummary(cmd, "sweep-recoveries", sum)
			return err
		},
	}
}

func (c *cli) accrueCmd() *cobra.Command {
	var year, month int
	cmd := &cobra.Command{
		Use:   "accrue",
		Short: "Run the monthly vacation and permission accrual",
		RunE: func(cmd *cobra.Command, args []string) error {
			if month < 1 || month > 12 {
				return fmt.Errorf("%w: month must be 1-12, got %d", generic.ErrInvalidInput, month)
			}
			sum, err := c.service().RunMonthlyAccrual(cmd.Context(), year, time.Month(month))
			printSummary(cmd, fmt.Sprintf("accrue %d-%02d", year, month), sum)
			return err
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Accrual year")
	cmd.Flags().IntVar(&month, "month", 0, "Accrual month 1-12")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func (c *cli) carryoverCmd() *cobra.Command {
	var year int
	cmd := &cobra.Command{
		Use:   "carryover",
		Short: "Carry a closed year's balances into the next year",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := c.service().RunCarryover(cmd.Context(), year)
			printSummary(cmd, fmt.Sprintf("carryover %d", year), sum.BatchSummary)
			fmt.Fprintf(cmd.OutOrStdout(), "carried over %s, expired %s\n", sum.CarriedOver.String(), sum.Expired.String())
			return err
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "Year to close")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func printSummary(cmd *cobra.Command, name string, sum attendance.BatchSummary) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s: processed %d, skipped %d, failed %d\n", name, sum.Processed, sum.Skipped, sum.Failed)
}

// ===== SNAPSHOTS =====

func (c *cli) verifyCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare every snapshot with its ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := c.service().VerifyAll(cmd.Context(), repair)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d, drifted %d, repaired %d\n", rep.Checked, len(rep.Drifted), rep.Repaired)
			for _, scope := range rep.Drifted {
				fmt.Fprintf(out, "drifted %s\n", scope)
			}
			for _, broken := range rep.Broken {
				fmt.Fprintf(out, "broken %v\n", broken)
			}
			if len(rep.Broken) > 0 {
				return fmt.Errorf("%d broken ledger chains", len(rep.Broken))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Rebuild drifted snapshots")
	return cmd
}

func (c *cli) rebuildCmd() *cobra.Command {
	var user, category string
	var year int
	cmd := &cobra.Command{
		Use:   "rebuild-snapshot",
		Short: "Recompute one scope's snapshot from its entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, ok := generic.LookupCategory(category)
			if !ok {
				return fmt.Errorf("%w: unknown category %q", generic.ErrInvalidInput, category)
			}
			scope := generic.Scope{UserID: generic.UserID(user), Category: cat, Year: year}
			snap, err := c.service().RebuildSnapshot(cmd.Context(), scope)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: balance %s, last seq %d\n", scope, snap.CurrentBalance.String(), snap.LastSeq)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User ID")
	cmd.Flags().StringVar(&category, "category", "", "Hours category")
	cmd.Flags().IntVar(&year, "year", 0, "Year")
	for _, name := range []string{"user", "category", "year"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// ===== READS =====

func (c *cli) reconcileCmd() *cobra.Command {
	var user, asOf string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Print a user's total balance breakdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			day := c.service().Today()
			if asOf != "" {
				parsed, err := generic.ParseDate(asOf)
				if err != nil {
					return err
				}
				day = parsed
			}
			b, err := c.service().ReconcileTotalBalance(cmd.Context(), generic.UserID(user), day)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user            %s\n", b.UserID)
			fmt.Fprintf(out, "as of           %s\n", b.AsOf)
			fmt.Fprintf(out, "days balance    %s (%d days, %d law 104 skipped)\n", b.DaysBalance, b.DaysCounted, b.Law104Skipped)
			fmt.Fprintf(out, "manual credits  %s\n", b.ManualCredits)
			fmt.Fprintf(out, "already counted %s\n", b.AlreadyCounted)
			fmt.Fprintf(out, "today deficit   %s\n", b.TodayDeficit)
			fmt.Fprintf(out, "total           %s\n", b.Total)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User ID")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Reconcile through YYYY-MM-DD (default: today)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var user, out string
	var year int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a user's ledger and daily records for a year to xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = fmt.Sprintf("%s-%d.xlsx", user, year)
			}
			wb, err := report.ExportYear(cmd.Context(), c.service(), generic.UserID(user), year)
			if err != nil {
				return err
			}
			defer func() {
				if err := wb.Close(); err != nil {
					c.hours.Logger.WithFields(logrus.Fields{"out": out}).WithError(err).Warn("failed to close workbook")
				}
			}()
			if err := wb.SaveAs(out); err != nil {
				return fmt.Errorf("failed to save %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User ID")
	cmd.Flags().IntVar(&year, "year", 0, "Year")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output path (default: <user>-<year>.xlsx)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}
