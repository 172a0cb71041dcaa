package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/memberdesk/memberdesk/internal/app"
)

func newServeCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when enabled, the revalidation worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				e.logger.Info("test mode detected, skipping runtime startup")
				return nil
			}
			c, err := e.opts.Build(cmd.Context(), e.cfg, e.logger)
			if err != nil {
				e.logger.Error("build application", slog.Any("error", err))
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					e.logger.Warn("close application", slog.Any("error", err))
				}
			}()
			return serve(cmd.Context(), c)
		},
	}
}

func serve(ctx context.Context, c *app.Container) error {
	srv := &http.Server{
		Addr:              c.Config.AppAddr,
		Handler:           c.Router,
		ReadTimeout:       c.Config.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      c.Config.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		c.WatchSessionEvents(gctx)
		return nil
	})
	group.Go(func() error {
		st := c.Service.Refresh(gctx)
		c.Logger.Info("initial session state", slog.String("status", string(st.Status)), slog.String("role", st.Role.String()))
		return nil
	})
	if c.Worker != nil {
		group.Go(func() error {
			if err := c.Worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	group.Go(func() error {
		c.Logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func newWorkerCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the scheduled session revalidation worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				e.logger.Info("test mode detected, skipping worker startup")
				return nil
			}
			cfg := *e.cfg
			cfg.WorkerEnabled = true
			c, err := e.opts.Build(cmd.Context(), &cfg, e.logger)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Worker.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				e.logger.Error("worker run", slog.Any("error", err))
				return err
			}
			return nil
		},
	}
}
