package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"payroll-bridge/internal/config"
)

// SweepCommand runs one retry sweep over the error queue.
func SweepCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Process due error-queue items once",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(config.Load())
			if err != nil {
				return err
			}
			defer d.Close()

			result, err := d.newProcessor().ProcessRetryQueue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Printf("Sweep complete: processed=%d succeeded=%d failed=%d skipped=%d\n",
				result.Processed, result.Succeeded, result.Failed, result.Skipped)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum items to process")
	return cmd
}

// StatsCommand prints error-queue counts.
func StatsCommand() *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show error-queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(config.Load())
			if err != nil {
				return err
			}
			defer d.Close()

			stats, err := d.queue.GetStats(cmd.Context(), orgID)
			if err != nil {
				return err
			}

			fmt.Printf("Total items: %d\n", stats.Total)
			fmt.Println("By status:")
			for status, n := range stats.ByStatus {
				fmt.Printf("  %-20s %d\n", status, n)
			}
			fmt.Println("By type:")
			for errType, n := range stats.ByType {
				fmt.Printf("  %-24s %d\n", errType, n)
			}
			fmt.Println("By severity:")
			for severity, n := range stats.BySeverity {
				fmt.Printf("  %-10s %d\n", severity, n)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Limit to one organization")
	return cmd
}
