package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"envbackup/internal/app"
	"envbackup/internal/backup"
	"envbackup/internal/config"
	"envbackup/internal/schedule"
)

// errPassFailed makes the process exit non-zero after the result was printed.
var errPassFailed = errors.New("one or more backups failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "envbackup",
		Short: "Rotating environment backups on daily, weekly, biweekly and monthly cadences",
		Long: `envbackup forks the primary environment of a content project into dated
backup environments and keeps one backup per enabled cadence.

Configuration is read from the environment and an optional .env file.
`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("at", "", "evaluate as of this RFC3339 instant instead of now")
	root.AddCommand(serveCmd(), runCmd(), statusCmd(), backupCmd(), slotsCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the in-process trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a, err := app.New(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one scheduled pass and print its result",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, now time.Time, out io.Writer, _ []string) error {
			res, err := a.Coordinator().Run(ctx, a.Credentials(), now)
			if err != nil {
				return err
			}
			if err := writeJSON(out, res); err != nil {
				return err
			}
			if res.HasScheduledBackupFailures {
				return errPassFailed
			}
			return nil
		}),
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the status of every cadence",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, a *app.App, now time.Time, out io.Writer, _ []string) error {
			res, err := a.Coordinator().Status(ctx, a.Credentials(), now)
			if err != nil {
				return err
			}
			return writeJSON(out, res)
		}),
	}
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "backup <cadence>",
		Short:     "Rotate the backup of one enabled cadence now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily", "weekly", "biweekly", "monthly"},
		RunE: withApp(func(ctx context.Context, a *app.App, now time.Time, out io.Writer, args []string) error {
			cad, err := schedule.ParseCadence(args[0])
			if err != nil {
				return err
			}
			res, err := a.Coordinator().BackupNow(ctx, a.Credentials(), cad, now)
			if err != nil {
				return err
			}
			return writeJSON(out, res)
		}),
	}
}

// slotReport is the distributed window of one cadence.
type slotReport struct {
	Scope  schedule.Cadence `json:"scope"`
	Window schedule.Window  `json:"window"`
}

func slotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the distributed slot of every cadence for the configured token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now, err := evalTime(cmd)
			if err != nil {
				return err
			}
			identity, _ := cmd.Flags().GetString("identity")
			if identity == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				identity = cfg.CMA.APIToken
			}
			if identity == "" {
				return backup.ErrMissingCredential
			}
			return writeJSON(cmd.OutOrStdout(), slotReports(identity, now))
		},
	}
	cmd.Flags().String("identity", "", "identity to hash instead of CMA_API_TOKEN")
	return cmd
}

func slotReports(identity string, now time.Time) []slotReport {
	out := make([]slotReport, 0, len(schedule.AllCadences))
	for _, c := range schedule.AllCadences {
		out = append(out, slotReport{Scope: c, Window: schedule.WindowAt(c, identity, now)})
	}
	return out
}

type appFunc func(ctx context.Context, a *app.App, now time.Time, out io.Writer, args []string) error

// withApp builds the application for a one-shot command.
func withApp(fn appFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		now, err := evalTime(cmd)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		a, err := app.New(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, a, now, cmd.OutOrStdout(), args)
	}
}

func evalTime(cmd *cobra.Command) (time.Time, error) {
	at, _ := cmd.Flags().GetString("at")
	if at == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at: %w", err)
	}
	return t, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
