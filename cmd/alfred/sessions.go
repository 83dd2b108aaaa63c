package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/alfred/internal/config"
	"github.com/nugget/alfred/internal/memory"
)

func newSessionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain the session store",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored sessions, most recently active first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(opts, func(_ *config.Config, store *memory.SQLiteStore) error {
					sessions, err := store.ListSessions(cmd.Context())
					if err != nil {
						return err
					}
					return printSessions(opts, sessions)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <session-id>",
			Short: "Delete a session and its messages",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(opts, func(_ *config.Config, store *memory.SQLiteStore) error {
					existed, err := store.DeleteSession(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if !existed {
						return fmt.Errorf("session %s: %w", args[0], memory.ErrSessionNotFound)
					}
					fmt.Fprintf(opts.stdout, "deleted session %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "cleanup",
			Short: "Delete sessions idle longer than the configured timeout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(opts, func(cfg *config.Config, store *memory.SQLiteStore) error {
					n, err := store.CleanupExpired(cmd.Context(), cfg.Sessions.Timeout())
					if err != nil {
						return err
					}
					fmt.Fprintf(opts.stdout, "removed %d expired session(s)\n", n)
					return nil
				})
			},
		},
	)
	return cmd
}

// withStore opens the configured session store for the duration of fn.
func withStore(opts *options, fn func(*config.Config, *memory.SQLiteStore) error) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(opts.stderr, cfg)
	store, err := memory.NewSQLiteStore(cfg.Sessions.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()
	return fn(cfg, store)
}

func printSessions(opts *options, sessions []memory.SessionMeta) error {
	if opts.output == "json" {
		if sessions == nil {
			sessions = []memory.SessionMeta{}
		}
		enc := json.NewEncoder(opts.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(opts.stdout, "no sessions")
		return nil
	}
	tw := tabwriter.NewWriter(opts.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tMESSAGES\tLAST ACTIVE\tCREATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, s.MessageCount,
			s.LastActive.Local().Format(time.DateTime), s.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
