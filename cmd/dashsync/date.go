package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/alsoamit/manager-dash-sub001/internal/config"
	"github.com/alsoamit/manager-dash-sub001/internal/prefs"
)

func dateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "date",
		Short: "Show or change the stored report date",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the report date (today when none is stored)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withReportDate(cmd, func(r *prefs.ReportDate) error {
					fmt.Fprintln(cmd.OutOrStdout(), r.Get())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set YYYY-MM-DD|today|+N|-N",
			Short: "Store a report date",
			Long:  "Store a report date. Negative offsets need a separator: dashsync date set -- -1",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withReportDate(cmd, func(r *prefs.ReportDate) error {
					v, err := applyDate(r, args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), v)
					return nil
				})
			},
		},
	)
	return cmd
}

func withReportDate(cmd *cobra.Command, fn func(*prefs.ReportDate) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	r, closer := openReportDate(cfg)
	defer closer.Close()
	return fn(r)
}

func openReportDate(cfg *config.Config) (*prefs.ReportDate, io.Closer) {
	backend, closer := prefs.Open(cfg.Prefs.Backend, cfg.Prefs.Dir)
	return prefs.NewReportDate(backend, cfg.Location()), closer
}

// applyDate interprets arg as an absolute date, "today", or a day offset.
func applyDate(r *prefs.ReportDate, arg string) (string, error) {
	switch {
	case arg == "today":
		return r.Today(), nil
	case len(arg) > 1 && (arg[0] == '+' || arg[0] == '-'):
		n, err := strconv.Atoi(arg)
		if err != nil {
			return "", fmt.Errorf("invalid day offset %q: %w", arg, err)
		}
		return r.Shift(n), nil
	}
	if _, err := time.Parse(prefs.DateLayout, arg); err != nil {
		return "", fmt.Errorf("invalid date %q: want %s", arg, prefs.DateLayout)
	}
	r.Set(arg)
	return arg, nil
}
