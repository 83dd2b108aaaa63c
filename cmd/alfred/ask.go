package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nugget/alfred/internal/assistant"
)

type askOptions struct {
	session string
	render  bool
}

func newAskCmd(opts *options) *cobra.Command {
	var ask askOptions
	cmd := &cobra.Command{
		Use:   "ask <request>",
		Short: "Process a single request (for testing)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), opts, ask, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&ask.session, "session", "s", "", "continue an existing session")
	cmd.Flags().BoolVar(&ask.render, "render", false, "render the reply as markdown on a terminal")
	return cmd
}

// runAsk processes one request against the configured store and
// integrations without starting the server. Logs go to stderr so the
// reply is the only thing on stdout.
func runAsk(ctx context.Context, opts *options, ask askOptions, input string) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(opts.stderr, cfg)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.start(ctx); err != nil {
		return err
	}
	a.checkBackend(ctx)

	res, err := a.assistant.Execute(ctx, assistant.Request{Input: input, SessionID: ask.session})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if opts.output == "json" {
		enc := json.NewEncoder(opts.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return printReply(opts.stdout, res, ask.render)
}

// printReply writes the reply and the session id. Markdown rendering
// applies only when stdout is a terminal.
func printReply(w io.Writer, res *assistant.Result, render bool) error {
	reply := res.Reply()
	if render && isTerminal(w) {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(terminalWidth(w)-10),
		)
		if err == nil {
			if out, err := r.Render(reply); err == nil {
				reply = strings.TrimRight(out, "\n")
			}
		}
	}
	fmt.Fprintln(w, reply)
	fmt.Fprintf(w, "\n[%s] session %s\n", res.Intent, res.SessionID)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 20 {
			return width
		}
	}
	return 80
}
