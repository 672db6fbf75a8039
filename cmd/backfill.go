package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sambandhq/samband/internal/ingest"
)

var backfillDays int

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Walk backward day by day and apply historical events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a := buildApp(cfg, st)
		backfiller := a.Backfill
		if backfillDays > 0 {
			backfiller = ingest.NewBackfiller(a.Feed, ingest.BackfillOptions{
				HighWater: cfg.Backfill.HighWater,
				MaxDays:   backfillDays,
				DayDelay:  cfg.Backfill.DayDelay(),
			}, nil)
		}

		events, err := backfiller.Run(ctx)
		if err != nil {
			return err
		}
		report, err := a.Upserter.ApplyAll(ctx, events)
		if err != nil {
			return err
		}
		zap.L().Info("backfill applied",
			zap.Int("new", report.New),
			zap.Int("updated", report.Updated),
		)
		return printJSON(report)
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillDays, "days", 0, "override the maximum day walk")
	rootCmd.AddCommand(backfillCmd)
}
