package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// skipApp marks commands that run without configuration or storage.
const skipApp = "skip-app"

func newRootCommand(cc *commandContext) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "tipjarctl",
		Short:         "Operate the tipjar payout service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log.SetOutput(os.Stderr)
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
			log.SetLevel(log.WarnLevel)
			if verbose {
				log.SetLevel(log.DebugLevel)
			}
			if cmd.Annotations[skipApp] == "true" {
				return nil
			}
			_, err := cc.ensureApp(cmd.Context())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			cc.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(newMigrateCommand(cc))
	rootCmd.AddCommand(newResyncCommand(cc))
	rootCmd.AddCommand(newSweepCommand(cc))
	rootCmd.AddCommand(newTipCommand(cc))
	rootCmd.AddCommand(newBroadcasterCommand(cc))
	rootCmd.AddCommand(newReallocationsCommand(cc))
	rootCmd.AddCommand(newHashPasswordCommand())

	return rootCmd
}
