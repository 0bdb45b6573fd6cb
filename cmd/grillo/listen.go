package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-go-golems/grillo/pkg/turn"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newListenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Start a turn every time Enter is pressed; type q to quit",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
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

			a.console.Hint(s.Transcript.Hint)

			eg, ctx := errgroup.WithContext(ctx)
			if printEvents {
				eg.Go(func() error {
					return a.router.Run(ctx)
				})
			}
			eg.Go(func() error {
				return triggerLoop(ctx, cmd.InOrStdin(), a.orchestrator)
			})
			err = eg.Wait()
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().Bool("print-events", false, "Print every turn event to stdout")
	cmd.Flags().Bool("simulate", false, "Use a synthetic microphone instead of ffmpeg")
	return cmd
}

var errQuit = errors.New("quit")

type turnStarter interface {
	BeginTurn(ctx context.Context) (*turn.Handle, error)
}

// triggerLoop starts a turn per input line. Lines arriving while a turn is
// running are dropped. It returns errQuit on "q", and at end of input once
// the running turn finished.
func triggerLoop(ctx context.Context, in io.Reader, turns turnStarter) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var last *turn.Handle
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if last != nil {
					_, _ = last.Wait()
				}
				return errQuit
			}
			if strings.TrimSpace(line) == "q" {
				return errQuit
			}
			h, err := turns.BeginTurn(ctx)
			switch {
			case err == nil:
				last = h
				log.Debug().Str("turn_id", h.TurnID).Msg("Turn started from keyboard")
			case errors.Is(err, turn.ErrBusy):
				log.Info().Msg("Still busy with the previous turn")
			default:
				return err
			}
		}
	}
}
