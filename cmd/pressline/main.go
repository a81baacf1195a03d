package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/cmd/pressline/commands"
	"github.com/teranos/pressline/logger"
)

var rootCmd = &cobra.Command{
	Use:   "pressline",
	Short: "pressline - content generation job runtime",
	Long: `pressline - durable content-generation jobs with retries and publish slots.

Jobs live in the database. Pulse claims them, calls the generation
pipeline, stores the artifact and places auto-publish jobs into the
next free golden-hour slot of their destination.

Available commands:
  am      - Show and validate configuration
  db      - Migrate the job store
  dest    - Manage publish destinations
  job     - Create and inspect generation jobs
  pulse   - Run the dispatcher, monitor and slot scheduler
  server  - Start the HTTP trigger server

Examples:
  pressline am show                 # Show effective configuration
  pressline job create --tenant t1  # Create and run a job
  pressline pulse start             # Run sweep and monitor on their cadence
  pressline server                  # Serve the trigger API and run the daemon`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 'am show' writes config to stdout, keep it clean
		if cmd.Name() == "show" && cmd.Parent() != nil && cmd.Parent().Name() == "am" {
			return nil
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonOutput := false
		if cfg, err := am.Load(); err == nil {
			jsonOutput = cfg.Log.JSON
		}
		if err := logger.InitializeWithLevel(jsonOutput, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (-v for debug)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.DestCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
