package main

import (
	"strings"

	"github.com/go-go-golems/grillo/pkg/blob"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newSayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Speak a text with the configured voice",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			if s.API.GoogleKey == "" {
				return errors.New("api.google-key is required for speech synthesis")
			}
			text := strings.Join(args, " ")

			blobs, err := blob.NewFileStore(s.Storage.Dir)
			if err != nil {
				return err
			}
			defer func() {
				if err := blobs.Cleanup(); err != nil {
					log.Warn().Err(err).Msg("Blob cleanup failed")
				}
			}()

			audio, err := newSynthesizer(s).Synthesize(cmd.Context(), text)
			if err != nil {
				return err
			}
			log.Debug().Int("bytes", len(audio)).Msg("Synthesized")
			return newEffector(s, blobs, nil).Play(cmd.Context(), audio)
		},
	}
	return cmd
}
