package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/dronenet/internal/config"
	"github.com/danmuck/dronenet/internal/controller"
	"github.com/danmuck/dronenet/internal/observability"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type runFlags struct {
	adminAddr string
	noAdmin   bool
	heartbeat time.Duration
	duration  time.Duration
}

func newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Run a simulation until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("admin-addr") {
				f.Simulation.AdminAddr = flags.adminAddr
			}
			if flags.noAdmin {
				f.Simulation.AdminAddr = ""
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if flags.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flags.duration)
				defer cancel()
			}
			logger := observability.InitLogger("dronesim", f.LoggingConfig())
			return serve(ctx, logger, f, flags.heartbeat)
		},
	}
	cmd.Flags().StringVar(&flags.adminAddr, "admin-addr", "", "admin HTTP listen address (overrides the file)")
	cmd.Flags().BoolVar(&flags.noAdmin, "no-admin", false, "do not start the admin HTTP server")
	cmd.Flags().DurationVar(&flags.heartbeat, "heartbeat", 10*time.Second, "interval between status log lines")
	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	return cmd
}

func serve(ctx context.Context, logger zerolog.Logger, f config.File, heartbeat time.Duration) error {
	observability.RegisterMetrics()
	ctrl, err := controller.New(f.Roster(), f.Options())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	adminErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(ctx)
	}()
	if f.Simulation.AdminAddr != "" {
		go func() {
			adminErr <- ctrl.ServeAdmin(ctx, f.Simulation.AdminAddr)
		}()
	}

	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	logger.Info().Int("nodes", len(ctrl.Nodes())).Str("admin", f.Simulation.AdminAddr).Msg("dronesim.serve started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("dronesim.serve shutdown")
			return <-runErr
		case err := <-runErr:
			return err
		case err := <-adminErr:
			if err != nil {
				cancel()
				<-runErr
				return err
			}
		case <-ticker.C:
			state, _ := ctrl.State()
			view := ctrl.View()
			logger.Info().
				Str("state", state.String()).
				Int("nodes", len(view.Nodes)).
				Int("edges", len(view.Edges)).
				Dur("uptime", ctrl.Uptime()).
				Msg("dronesim.serve heartbeat")
		}
	}
}
