package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/satindergrewal/reelpreview/internal/audio"
	"github.com/satindergrewal/reelpreview/internal/loader"
)

func newProbeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "probe <ref>",
		Short: "Fetch and decode an audio reference and report its length",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := args[0]
			data, err := loader.NewSourceFetcher(nil, fetchTimeout).Fetch(cmd.Context(), ref)
			if err != nil {
				return err
			}
			clip, err := audio.Decode(cmd.Context(), data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", ref, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n  encoded: %s\n  decoded: %s PCM\n  length:  %s (%d samples at %d Hz)\n",
				ref,
				humanize.Bytes(uint64(len(data))),
				humanize.Bytes(clip.Size()),
				formatSeconds(clip.Seconds()),
				clip.Len(),
				audio.SampleRate,
			)
			return nil
		},
	}
}
