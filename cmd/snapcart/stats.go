package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"snapcart/internal/config"
	"snapcart/internal/stats"
)

func newStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show purchase attempt statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			sink, err := stats.NewSQLiteSink(filepath.Join(cfg.DataDir, "stats.db"), slog.Default())
			if err != nil {
				return err
			}
			defer sink.Close()

			overall, err := sink.Overall()
			if err != nil {
				return err
			}

			fmt.Printf("attempts: %d  successes: %d  failures: %d  success rate: %.1f%%  avg elapsed: %.0fms\n",
				overall.TotalAttempts, overall.SuccessfulAttempts, overall.FailedAttempts,
				overall.SuccessRate, overall.AverageElapsedMs)

			byAccount, err := sink.ByAccount()
			if err != nil {
				return err
			}
			for _, a := range byAccount {
				fmt.Printf("  %-24s attempts=%d successes=%d rate=%.1f%%\n",
					a.AccountID, a.TotalAttempts, a.SuccessfulAttempts, a.SuccessRate)
			}

			prices, err := sink.PriceHistory(10)
			if err != nil {
				return err
			}
			if len(prices) > 0 {
				fmt.Println("recent prices:")
				for _, p := range prices {
					fmt.Printf("  %s  $%.2f  %s\n",
						p.Timestamp.Local().Format("2006-01-02 15:04"), p.Price, p.ProductName)
				}
			}
			return nil
		},
	}
}
