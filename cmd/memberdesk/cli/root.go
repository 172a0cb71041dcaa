// Package cli implements the memberdesk commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/memberdesk/memberdesk/internal/app"
)

// Options overrides how commands obtain configuration and the wired
// application. Zero values use the environment and real backends.
type Options struct {
	LoadConfig func() (*app.Config, error)
	Build      func(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*app.Container, error)
}

type env struct {
	opts   Options
	output string
	cfg    *app.Config
	logger *slog.Logger
}

// NewRootCommand assembles the command tree.
func NewRootCommand(opts Options) *cobra.Command {
	if opts.LoadConfig == nil {
		opts.LoadConfig = app.LoadConfig
	}
	if opts.Build == nil {
		opts.Build = func(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*app.Container, error) {
			return app.Build(ctx, cfg, logger, app.Deps{})
		}
	}
	e := &env{opts: opts}

	root := &cobra.Command{
		Use:          "memberdesk",
		Short:        "Membership dashboard session and role service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			if e.output != "table" && e.output != "json" {
				return fmt.Errorf("unknown output format %q", e.output)
			}
			cfg, err := e.opts.LoadConfig()
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger = app.NewLogger(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&e.output, "output", "o", "table", "output format: table or json")

	root.AddCommand(
		newServeCommand(e),
		newWorkerCommand(e),
		newWhoamiCommand(e),
		newCanAccessCommand(e),
		newLoginCommand(e),
		newSignOutCommand(e),
		newRevalidateCommand(e),
	)
	return root
}

// container builds the application graph for a one-shot command, without
// the job worker.
func (e *env) container(ctx context.Context) (*app.Container, error) {
	cfg := *e.cfg
	cfg.WorkerEnabled = false
	return e.opts.Build(ctx, &cfg, e.logger)
}

func (e *env) printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
