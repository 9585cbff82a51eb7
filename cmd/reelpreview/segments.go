package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/reelpreview/internal/segment"
	"github.com/satindergrewal/reelpreview/internal/timeline"
)

func newSegmentsCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "segments",
		Short: "Show the timeline laid out as narration segments",
		Long: "Lists every caption part with its position on the timeline. Parts without\n" +
			"synthesized narration are placed from the scene's recorded duration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			scenes, err := store.Scenes(cmd.Context())
			if err != nil {
				return err
			}
			if len(scenes) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scenes. Load a project with 'reelpreview import'.")
				return nil
			}
			table := estimateTable(scenes, cc.cfg.Playback.PartDelimiter)
			headers, rows := segmentRows(scenes, table, cc.cfg.Playback.PartDelimiter)
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignRight, alignRight, alignLeft}))
			fmt.Fprintf(cmd.OutOrStdout(), "%d segments, %s total\n", len(table), formatSeconds(table.End()))
			return nil
		},
	}
}

// estimateTable lays out scenes from their recorded durations alone.
func estimateTable(scenes []timeline.Scene, delim string) segment.Table {
	sources := make([]segment.Source, len(scenes))
	for i, sc := range scenes {
		sources[i] = segment.Source{Estimate: sc.Duration, PartCount: len(sc.Parts(delim))}
	}
	return segment.Build(sources)
}

func segmentRows(scenes []timeline.Scene, table segment.Table, delim string) ([]string, [][]string) {
	headers := []string{"Scene", "Part", "ID", "Start", "Length", "Caption"}
	rows := make([][]string, 0, len(table))
	for _, s := range table {
		caption := ""
		if s.SceneIndex < len(scenes) {
			parts := scenes[s.SceneIndex].Parts(delim)
			if s.PartIndex < len(parts) {
				caption = truncate(parts[s.PartIndex], 48)
			}
		}
		sceneID := strconv.Itoa(s.SceneIndex)
		if id := scenes[s.SceneIndex].SceneID; id != "" {
			sceneID += " (" + id + ")"
		}
		rows = append(rows, []string{
			sceneID,
			strconv.Itoa(s.PartIndex),
			s.ID[:min(8, len(s.ID))],
			formatSeconds(s.Start),
			formatSeconds(s.Duration),
			caption,
		})
	}
	return headers, rows
}

func formatSeconds(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 2, 64) + "s"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
