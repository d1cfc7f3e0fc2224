// CalendarRelay keeps a local event's calendar entries in sync with each
// user's Google Calendar, in both directions, with last-modified-wins
// conflict resolution.
//
// Usage:
//
//	calendarrelay setup                              # interactive config wizard
//	calendarrelay serve                              # run the HTTP API
//	calendarrelay sync <user-id> <event-id>          # one reconcile pass
//	calendarrelay connect <user-id> [--calendar id]  # OAuth consent from the terminal
//	calendarrelay disconnect <user-id>               # forget a user's credential
//	calendarrelay meet-link <user-id> <entry-id>     # create or show a Meet link
//	calendarrelay status [user-id] [--event id]      # show config and state
//	calendarrelay version                            # print version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/njoerd114/calendarrelay/internal/auth"
	"github.com/njoerd114/calendarrelay/internal/config"
	"github.com/njoerd114/calendarrelay/internal/gcal"
	"github.com/njoerd114/calendarrelay/internal/state"
	calsync "github.com/njoerd114/calendarrelay/internal/sync"
	"github.com/njoerd114/calendarrelay/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

// googleTimeout bounds a single call to Google's token or Calendar endpoints.
const googleTimeout = 30 * time.Second

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	defaultCfg, _ := config.DefaultPath()

	root := &cobra.Command{
		Use:           "calendarrelay",
		Short:         "Sync event calendar entries with Google Calendar",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultCfg, "path to config.yaml")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSetupCmd(flags),
		newServeCmd(flags),
		newSyncCmd(flags),
		newConnectCmd(flags),
		newDisconnectCmd(flags),
		newMeetLinkCmd(flags),
		newStatusCmd(flags),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "calendarrelay", version)
			},
		},
	)
	return root
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// --- Wiring ------------------------------------------------------------------

// app holds the components a subcommand may need.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *state.Store
	engine    *calsync.Engine
	connector *auth.Connector

	shutdownTel telemetry.ShutdownFunc
}

// newApp loads the config and wires the store, OAuth, Google adapter and
// sync engine. Callers must defer close.
func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	logger := newLogger(flags.verbose)

	// --- Config ---

	if err := config.LoadEnv(flags.configPath); err != nil {
		return nil, err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", flags.configPath, err)
	}
	if !cfg.Google.HasClient() {
		logger.Warn("google oauth client not configured; token refresh and connect will fail",
			"env", config.EnvClientID)
	}

	// --- Telemetry (optional) ---

	telCfg := telemetry.FromConfig(cfg.Telemetry)
	shutdownTel, err := telemetry.Setup(ctx, telCfg)
	if err != nil {
		logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
	} else if telCfg.Enabled() {
		logger.Info("telemetry enabled", "endpoint", telCfg.OTLPEndpoint)
	}

	// --- State DB ---

	dbPath := cfg.DBPath
	if dbPath == "" {
		if dbPath, err = state.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	store, err := state.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	logger.Debug("state DB opened", "path", dbPath)

	// --- Google ---

	transport := telemetry.Transport(nil)
	hc := &http.Client{Transport: transport, Timeout: googleTimeout}
	oauthCfg := auth.NewOAuthConfig(cfg.Google)

	refresher := auth.NewRefresher(store, oauthCfg, hc, logger)
	adapter := gcal.NewAdapterWithTransport(refresher, cfg.Google.APIEndpoint, transport, logger)

	reconciler := calsync.NewReconciler(adapter, store, logger)

	return &app{
		cfg:         cfg,
		log:         logger,
		store:       store,
		engine:      calsync.NewEngine(reconciler, logger),
		connector:   auth.NewConnector(store, oauthCfg, hc, logger),
		shutdownTel: shutdownTel,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("closing state DB", "error", err)
	}
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdownTel(flushCtx); err != nil {
		a.log.Error("telemetry shutdown error", "error", err)
	}
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
