// Alfred is a local smart-home assistant. It turns an utterance into one
// structured decision using a local model, executes device commands
// through Home Assistant and plugin integrations, and keeps per-session
// conversation history.
//
// Usage:
//
//	alfred serve                 Start the API server
//	alfred ask <request>         Process a single request (for testing)
//	alfred sessions list         List stored sessions
//	alfred sessions delete <id>  Delete a session and its messages
//	alfred sessions cleanup      Delete sessions past the inactivity timeout
//	alfred init [dir]            Write an example config.yaml
//	alfred version               Print version and build information
//	alfred -o json version       Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nugget/alfred/internal/buildinfo"
	"github.com/nugget/alfred/internal/config"
)

// main builds the OS-level environment and hands off to [run], keeping
// os.Exit and os.Args out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	output     string // text or json
	stdout     io.Writer
	stderr     io.Writer
}

// run is the real entry point. The command tree is built per call so
// tests can drive it concurrently without shared flag state.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	opts := &options{stdout: stdout, stderr: stderr}
	root := newRootCmd(opts)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "alfred",
		Short:         "Alfred - local smart home assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.output != "text" && opts.output != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", opts.output)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config file (default: auto-discover)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newSessionsCmd(opts),
		newInitCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runVersion(opts.stdout, opts.output)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// loadConfig loads .env, then the YAML config. Without an explicit path
// and with no file in the search paths, Alfred runs on defaults plus
// environment overrides.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit == "" && errors.Is(err, config.ErrNoConfig) {
			cfg := config.Default()
			if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
				return nil, "", err
			}
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}

// configuredLogger builds the logger a loaded config asks for.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return config.NewLogger(w, level, cfg.LogFormat)
}
