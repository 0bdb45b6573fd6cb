package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/grillo/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP trigger API and the websocket event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				s.Server.Addr, _ = cmd.Flags().GetString("addr")
			}
			printEvents, _ := cmd.Flags().GetBool("print-events")
			simulate, _ := cmd.Flags().GetBool("simulate")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, s, appOptions{
				Simulate:    simulate,
				PrintEvents: printEvents,
				Out:         cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Warn().Err(err).Msg("Session teardown failed")
				}
			}()

			eg, ctx := errgroup.WithContext(ctx)
			if printEvents {
				eg.Go(func() error {
					return a.router.Run(ctx)
				})
			}
			srv := server.NewServer(a.orchestrator, a.router.Subscriber, server.WithBaseContext(ctx))
			eg.Go(func() error {
				return srv.Serve(ctx, s.Server.Addr)
			})
			return eg.Wait()
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().Bool("print-events", false, "Print every turn event to stdout")
	cmd.Flags().Bool("simulate", false, "Use a synthetic microphone instead of ffmpeg")
	return cmd
}
