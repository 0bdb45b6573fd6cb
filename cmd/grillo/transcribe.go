package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTranscribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe",
		Short: "Record one utterance and print what was recognized",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			simulate, _ := cmd.Flags().GetBool("simulate")

			transcriber, err := newTranscriber(s)
			if err != nil {
				return err
			}
			clip, err := newRecorder(s, simulate).BeginCapture(cmd.Context(), s.CaptureOptions())
			if err != nil {
				return err
			}
			text, err := transcriber.Transcribe(cmd.Context(), clip)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	cmd.Flags().Bool("simulate", false, "Use a synthetic microphone instead of ffmpeg")
	return cmd
}
