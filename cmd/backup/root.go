package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imedwei/collection-backup/internal/config"
	"github.com/imedwei/collection-backup/internal/logging"
)

type appKey struct{}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "backup",
		Short: "Scheduled backups of database collections",
		Long: `backup dumps registered collections into fingerprinted archives,
skips unchanged data, applies per-collection retention and mails new archives.

Run it from cron with "backup run --all".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			logger := logging.New(logging.Config{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: os.Stderr,
			})

			a, err := newApp(cmd.Context(), cfg, nil, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			cmd.SetContext(withApp(cmd.Context(), a))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $"+config.FileEnvVar+")")

	root.AddCommand(
		newRunCmd(),
		newPruneCmd(),
		newKeepCmd(true),
		newKeepCmd(false),
		newDeleteCmd(),
		newVerifyCmd(),
		newRestoreCmd(),
		newMailCmd(),
		newDownloadCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newListCmd(),
		newArchivesCmd(),
		newSetCmd(),
		newSyncCmd(),
		newPreviewCmd(),
		newCheckCmd(),
		newServeCmd(),
		newVersionCmd(),
	)

	// Release the databases whether or not the command fails.
	for _, c := range root.Commands() {
		if run := c.RunE; run != nil {
			c.RunE = func(cmd *cobra.Command, args []string) error {
				err := run(cmd, args)
				return errors.Join(err, appFrom(cmd).Close())
			}
		}
	}
	return root
}
