package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/alsoamit/manager-dash-sub001/internal/access"
	"github.com/alsoamit/manager-dash-sub001/internal/config"
	"github.com/alsoamit/manager-dash-sub001/internal/hub"
	"github.com/alsoamit/manager-dash-sub001/internal/telemetry"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a development push server with generated field-sales data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}
			role, _ := cmd.Flags().GetString("role")
			origins, _ := cmd.Flags().GetStringSlice("origin")
			seed, _ := cmd.Flags().GetInt64("seed")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, devSession(role), origins, seed)
		},
	}
	cmd.Flags().Int("port", 0, "override server port")
	cmd.Flags().String("role", access.RoleAdmin, `role reported by /api/session ("none" for signed out)`)
	cmd.Flags().StringSlice("origin", nil, "allowed websocket origins")
	cmd.Flags().Int64("seed", 0, "random seed for generated data (0 = time based)")
	return cmd
}

func devSession(role string) *access.Session {
	if role == "" || role == "none" {
		return nil
	}
	return &access.Session{UserID: "dev-" + role, Name: "Dev " + role, Role: role}
}

func runServe(ctx context.Context, cfg *config.Config, session *access.Session, origins []string, seed int64) error {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "dashsync-hub",
		ServiceVersion: version,
		UseStdout:      cfg.Telemetry.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdown(context.Background())

	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	b := hub.NewBroadcaster(cfg.Server.MaxConns)
	defer b.Stop()
	srv := hub.NewServer(hub.NewStore(), b, session, origins, cfg.Server.Token)

	gen := hub.NewGenerator(srv, cfg.Server.MockInterval, seed)
	gen.Start(ctx)
	log.Printf("serve: generating data every %s (seed %d)", cfg.Server.MockInterval, seed)

	return hub.ListenAndServe(ctx, cfg.ListenAddr(), otelhttp.NewHandler(srv.Handler(), "hub"))
}
