package cli

import (
	"time"

	"github.com/spf13/cobra"

	"deal-reminders/internal/app"
)

var (
	simulateStatus   string
	simulateStartsIn time.Duration
	simulateEndsIn   time.Duration
	simulatePending  int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-reminder",
	Short: "Run one dispatch pass against a fabricated deal",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Status:             simulateStatus,
			CommitmentStartsIn: simulateStartsIn,
			CommitmentEndsIn:   simulateEndsIn,
			PendingCommitments: simulatePending,
		}
		return getApp().SimulateReminder(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateStatus, "status", "active", "Deal status (active or inactive)")
	simulateCmd.Flags().DurationVar(&simulateStartsIn, "commitment-starts-in", 48*time.Hour, "Offset from now to the commitment window opening (may be negative)")
	simulateCmd.Flags().DurationVar(&simulateEndsIn, "commitment-ends-in", 72*time.Hour, "Offset from now to the commitment window close (may be negative)")
	simulateCmd.Flags().IntVar(&simulatePending, "pending", 0, "Number of pending commitments on the fabricated deal")
}
