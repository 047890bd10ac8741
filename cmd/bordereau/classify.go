package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/bordereau-engine/internal/domain/sla"
)

func newClassifyCmd() *cobra.Command {
	var (
		received string
		at       string
		slaDays  int
	)

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Print the SLA tier of a bordereau received at a given time",
		RunE: func(cmd *cobra.Command, args []string) error {
			receivedAt, err := parseTime(received)
			if err != nil {
				return fmt.Errorf("--received: %w", err)
			}
			now := time.Now().UTC()
			if at != "" {
				if now, err = parseTime(at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			if slaDays <= 0 {
				return fmt.Errorf("--sla-days must be positive")
			}

			c := sla.Classify(now, receivedAt, slaDays)
			fmt.Fprintf(cmd.OutOrStdout(), "tier=%s priority=%s days_elapsed=%d remaining_hours=%d days_overdue=%d deadline=%s\n",
				c.Tier, c.Priority, c.DaysElapsed, c.RemainingHours, c.DaysOverdue,
				sla.Deadline(receivedAt, slaDays).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&received, "received", "", "Reception time, RFC3339 or YYYY-MM-DD")
	cmd.Flags().StringVar(&at, "at", "", "Evaluation time (default now)")
	cmd.Flags().IntVar(&slaDays, "sla-days", 0, "SLA in days")
	_ = cmd.MarkFlagRequired("received")
	_ = cmd.MarkFlagRequired("sla-days")
	return cmd
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
