package cli

import (
	"github.com/spf13/cobra"
)

// NewRoot builds the prompttick command tree.
func NewRoot() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompttick",
		Short: "Scheduled prompt-file processing pipeline",
		Long: "prompttick polls an input directory for prompt files, dispatches each\n" +
			"to the configured generation backend, and writes results to the output\n" +
			"directory, tracking processed files so repeated runs are idempotent.",
		SilenceUsage: true,
		RunE: func(c *cobra.Command, _ []string) error {
			return c.Help()
		},
	}
	cmd.PersistentFlags().String("config", "config.yaml", "path to the YAML configuration file")
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
