package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/njoerd114/calendarrelay/internal/api"
	"github.com/njoerd114/calendarrelay/internal/config"
	"github.com/njoerd114/calendarrelay/internal/setup"
	"github.com/njoerd114/calendarrelay/internal/state"
	calsync "github.com/njoerd114/calendarrelay/internal/sync"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
}

func newSetupCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive configuration wizard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger(flags.verbose)
			wiz := setup.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout(), flags.configPath, logger)
			return wiz.Run()
		},
	}
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			if !flags.verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			if len(a.cfg.APIKeys) == 0 {
				a.log.Warn("no api_keys configured; the HTTP API accepts unauthenticated requests")
			}

			srv := api.NewServer(a.engine, a.connector, a.store, a.cfg.APIKeys, a.log)
			ln, err := net.Listen("tcp", a.cfg.ListenAddr)
			if err != nil {
				return fmt.Errorf("listening on %s: %w", a.cfg.ListenAddr, err)
			}
			if err := api.Serve(ctx, api.NewHTTPServer(a.cfg.ListenAddr, srv.Handler()), ln, a.log); err != nil {
				return err
			}
			a.log.Info("shutdown complete")
			return nil
		},
	}
}

func newSyncCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sync <user-id> <event-id>",
		Short: "Run one reconcile pass for an event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.engine.Sync(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func printResult(w io.Writer, r calsync.SyncResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "Pushed to Google:   %d\n", r.PushedToGoogle)
	fmt.Fprintf(w, "Pulled from Google: %d\n", r.PulledFromGoogle)
	fmt.Fprintf(w, "Conflicts:          %d\n", r.Conflicts)
	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "Errors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  • %s\n", e)
		}
	}
	return nil
}

func newConnectCmd(flags *globalFlags) *cobra.Command {
	var calendarID string
	cmd := &cobra.Command{
		Use:   "connect <user-id>",
		Short: "Connect a user's Google Calendar from the terminal",
		Long: `Prints the Google consent URL. After granting access the browser is
redirected to the configured redirect URL; paste that full URL (or just its
code parameter) back into the terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			state := uuid.NewString()
			consentURL, err := a.connector.AuthCodeURL(state)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this URL in a browser and grant access:\n\n  %s\n\n", consentURL)
			fmt.Fprintf(out, "Paste the redirect URL or code: ")

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading authorization code: %w", err)
			}
			code, err := parseAuthCode(line, state)
			if err != nil {
				return err
			}

			cred, err := a.connector.Exchange(ctx, args[0], code, calendarID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "✓ Connected %s to calendar %s\n", cred.UserID, cred.Calendar())
			return nil
		},
	}
	cmd.Flags().StringVar(&calendarID, "calendar", "", "calendar ID to sync (default: primary)")
	return cmd
}

// parseAuthCode accepts either a bare code or the full redirect URL. A URL
// must carry wantState.
func parseAuthCode(input, wantState string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("no authorization code given")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URL: %w", err)
	}
	q := u.Query()
	if reason := q.Get("error"); reason != "" {
		return "", fmt.Errorf("consent was not granted: %s", reason)
	}
	if q.Get("state") != wantState {
		return "", fmt.Errorf("redirect URL belongs to a different consent request")
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect URL has no code parameter")
	}
	return code, nil
}

func newDisconnectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect <user-id>",
		Short: "Forget a user's Google credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.connector.Disconnect(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Disconnected %s\n", args[0])
			return nil
		},
	}
}

func newMeetLinkCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "meet-link <user-id> <entry-id>",
		Short: "Create the Google event with a Meet link, or show the existing link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.close()

			link, err := a.engine.AddMeetLink(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if link == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(no Meet link)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), link)
			return nil
		},
	}
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "status [user-id]",
		Short: "Show config, state DB and, optionally, a user's connection",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, flags.configPath, args, eventID)
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "also count the entries stored for this event")
	return cmd
}

// runStatus reports what it can even when the config is missing or invalid.
func runStatus(cmd *cobra.Command, cfgPath string, args []string, eventID string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "CalendarRelay Status")
	fmt.Fprintln(out, "────────────────────")

	_ = config.LoadEnv(cfgPath)
	var dbPath string
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Fprintf(out, "  Config:    not found (%s)\n", cfgPath)
	} else if cfg, loadErr := config.Load(cfgPath); loadErr != nil {
		fmt.Fprintf(out, "  Config:    %s (invalid: %v)\n", cfgPath, loadErr)
	} else {
		fmt.Fprintf(out, "  Config:    %s ✓\n", cfgPath)
		fmt.Fprintf(out, "  Listen:    %s\n", cfg.ListenAddr)
		fmt.Fprintf(out, "  API keys:  %d\n", len(cfg.APIKeys))
		if cfg.Google.HasClient() {
			fmt.Fprintf(out, "  OAuth:     client configured\n")
		} else {
			fmt.Fprintf(out, "  OAuth:     client missing (set %s / %s)\n", config.EnvClientID, config.EnvClientSecret)
		}
		dbPath = cfg.DBPath
	}

	if dbPath == "" {
		dbPath, _ = state.DefaultDBPath()
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Fprintf(out, "  State DB:  not found\n")
		return nil
	}
	fmt.Fprintf(out, "  State DB:  %s (%s)\n", dbPath, humanSize(info.Size()))

	if len(args) == 0 && eventID == "" {
		return nil
	}

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	defer store.Close()
	ctx := cmd.Context()

	if len(args) == 1 {
		cred, err := store.GetCredential(ctx, args[0])
		if err != nil {
			return err
		}
		if cred == nil {
			fmt.Fprintf(out, "  User:      %s not connected\n", args[0])
		} else {
			fmt.Fprintf(out, "  User:      %s connected to %s\n", cred.UserID, cred.Calendar())
			fmt.Fprintf(out, "  Token:     expires %s, refresh token %s\n",
				cred.TokenExpiry.Local().Format("2006-01-02 15:04"), presence(cred.RefreshToken))
		}
	}

	if eventID != "" {
		n, err := store.CountEntries(ctx, eventID)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  Event:     %s has %d entr%s\n", eventID, n, plural(n, "y", "ies"))
	}
	return nil
}

func presence(s string) string {
	if s == "" {
		return "missing"
	}
	return "present"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
