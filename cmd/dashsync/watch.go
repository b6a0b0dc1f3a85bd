package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/alsoamit/manager-dash-sub001/internal/access"
	"github.com/alsoamit/manager-dash-sub001/internal/client"
	"github.com/alsoamit/manager-dash-sub001/internal/config"
	"github.com/alsoamit/manager-dash-sub001/internal/syncer"
	"github.com/alsoamit/manager-dash-sub001/internal/telemetry"
	"github.com/alsoamit/manager-dash-sub001/internal/tui"
)

// errAccessDenied is returned when the session may not open the dashboard.
var errAccessDenied = errors.New("access denied")

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open the live dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logPath, _ := cmd.Flags().GetString("log")
			if logPath == "" {
				logPath = filepath.Join(cfg.Prefs.Dir, "dashsync.log")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cfg, logPath, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().String("log", "", "log file (default <prefs dir>/dashsync.log)")
	return cmd
}

func runWatch(ctx context.Context, cfg *config.Config, logPath string, stderr io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := tea.LogToFile(logPath, "dashsync")
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logFile.Close()

	// The TUI owns stdout, so spans go next to the log.
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceVersion: version,
		UseStdout:      cfg.Telemetry.Stdout,
		Writer:         logFile,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdown(context.Background())

	api := client.NewHTTPClient(cfg.API.BaseURL, cfg.Transport.Token, cfg.API.Timeout)
	if err := checkAccess(ctx, api, stderr); err != nil {
		return err
	}

	ws := client.NewWSTransport(cfg.Transport.Token)
	ws.SetKeepalive(cfg.Transport.PingInterval, cfg.Transport.PongTimeout)
	mgr := client.NewManager(cfg.Transport.URL, ws, client.WithRetryPolicy(cfg.RetryPolicy()))
	defer mgr.Disconnect()

	coord := syncer.NewCoordinator(syncer.NewStore(), api)
	coord.SetMaxPending(cfg.Sync.MaxPending)
	detach := coord.Attach(ctx, mgr)
	defer detach()

	date, closer := openReportDate(cfg)
	defer closer.Close()

	m := tui.New(tui.Options{
		Coordinator: coord,
		Manager:     mgr,
		ReportDate:  date,
		StaleAfter:  cfg.Sync.StaleAfter,
	})
	defer m.Close()

	log.Printf("watch: %s (api %s)", cfg.Transport.URL, cfg.API.BaseURL)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// checkAccess runs the admin gate once before anything connects.
func checkAccess(ctx context.Context, lookup access.SessionLookup, stderr io.Writer) error {
	d := access.NewGate(lookup).CheckAdmin(ctx)
	if d.Allowed() {
		log.Printf("watch: signed in as %s", d.Session.UserID)
		return nil
	}
	switch d.Outcome {
	case access.RedirectLogin:
		fmt.Fprintf(stderr, "Not signed in. Sign in at %s and retry.\n", d.Redirect)
	case access.RedirectHome:
		fmt.Fprintf(stderr, "This dashboard is for admins only. Go to %s.\n", d.Redirect)
	}
	return fmt.Errorf("%w: %s", errAccessDenied, d.Outcome)
}
