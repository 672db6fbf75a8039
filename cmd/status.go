package main

import (
	"context"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print database and fetch health status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a := buildApp(cfg, st)
		dbStats, err := st.DatabaseStats(ctx)
		if err != nil {
			return err
		}
		health, err := a.Reporter.Report(ctx, false)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"database": dbStats,
			"fetch":    health,
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
