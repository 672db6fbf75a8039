package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and verify a database backup (sqlite only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a := buildApp(cfg, st)
		if a.Backups == nil {
			return eris.New("backup: requires the sqlite backend")
		}

		entry, err := a.Backups.Create(ctx)
		if printErr := printJSON(entry); printErr != nil {
			return printErr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(backupCmd)
}
