package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/satindergrewal/reelpreview/internal/timeline"
)

func newImportCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <project.json>",
		Short: "Replace the stored timeline with a project file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open project: %w", err)
			}
			defer file.Close()

			project, err := timeline.DecodeProject(file)
			if err != nil {
				return err
			}

			lock, err := cc.lockDataDir()
			if err != nil {
				return err
			}
			defer lock.Unlock()

			store, err := cc.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Import(cmd.Context(), project); err != nil {
				return fmt.Errorf("import project: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %q: %d scenes\n", project.Name, len(project.Scenes))
			return nil
		},
	}
}
