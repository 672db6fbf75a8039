package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sambandhq/samband/internal/stats"
)

var (
	statsPeriod string
	statsFrom   string
	statsTo     string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a windowed statistics report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		period, err := stats.ParsePeriod(statsPeriod)
		if err != nil {
			return err
		}

		var custom *stats.DateRange
		if period == stats.PeriodCustom {
			from, err := time.Parse("2006-01-02", statsFrom)
			if err != nil {
				return eris.New("stats: --from must be YYYY-MM-DD")
			}
			to, err := time.Parse("2006-01-02", statsTo)
			if err != nil {
				return eris.New("stats: --to must be YYYY-MM-DD")
			}
			custom = &stats.DateRange{From: from, To: to.AddDate(0, 0, 1)}
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		a := buildApp(cfg, st)
		report, err := a.Stats.Compute(ctx, period, custom)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsPeriod, "period", "24h", "window: 6h, 12h, 24h, 48h, 7d, 30d, all, custom")
	statsCmd.Flags().StringVar(&statsFrom, "from", "", "custom window start (YYYY-MM-DD)")
	statsCmd.Flags().StringVar(&statsTo, "to", "", "custom window end, inclusive (YYYY-MM-DD)")
	rootCmd.AddCommand(statsCmd)
}
