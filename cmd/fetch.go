package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var fetchForce bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Run one refresh cycle against the feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a := buildApp(cfg, st)
		if fetchForce {
			// Bypass the staleness gate by applying a fresh listing directly.
			events, err := a.Feed.Fetch(ctx)
			if err != nil {
				return err
			}
			report, err := a.Upserter.ApplyAll(ctx, events)
			if err != nil {
				return err
			}
			return printJSON(report)
		}

		result := a.Refresher.Refresh(ctx)
		if err := printJSON(result); err != nil {
			return err
		}
		if !result.Success {
			return eris.Errorf("fetch failed: %s", result.Error)
		}
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "skip the staleness gate and fetch now")
	rootCmd.AddCommand(fetchCmd)
}
