package cli

import (
	"time"

	"github.com/spf13/cobra"

	"deal-reminders/internal/app"
	"deal-reminders/internal/deal"
)

var (
	createID          string
	createName        string
	createDistributor string
	createYear        int
	createMonth       int
	createMinQty      int64
	createSizes       string

	commitDeal string
	commitUser string
	commitQty  map[string]int64

	reviewCommitment string
	reviewStatus     string
)

var createDealCmd = &cobra.Command{
	Use:   "create-deal",
	Short: "Author an inactive deal for a cycle month",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().CreateDeal(cmd.Context(), app.CreateDealOptions{
			ID:            createID,
			Name:          createName,
			DistributorID: createDistributor,
			Year:          createYear,
			Month:         createMonth,
			MinQty:        createMinQty,
			SizesJSON:     createSizes,
		})
	},
}

var postDealCmd = &cobra.Command{
	Use:   "post-deal <deal-id>",
	Short: "Mark an inactive deal as posted, opening it to members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().PostDeal(cmd.Context(), args[0])
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Record a priced member commitment on a deal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Commit(cmd.Context(), commitDeal, commitUser, commitQty)
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Approve or decline a pending commitment",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Review(cmd.Context(), reviewCommitment, deal.CommitmentStatus(reviewStatus))
	},
}

func init() {
	now := time.Now().UTC()

	createDealCmd.Flags().StringVar(&createID, "id", "", "Deal identifier")
	createDealCmd.Flags().StringVar(&createName, "name", "", "Deal name")
	createDealCmd.Flags().StringVar(&createDistributor, "distributor", "", "Distributor member identifier")
	createDealCmd.Flags().IntVar(&createYear, "year", now.Year(), "Cycle year")
	createDealCmd.Flags().IntVar(&createMonth, "month", int(now.Month()), "Cycle month (1-12)")
	createDealCmd.Flags().Int64Var(&createMinQty, "min-qty", 0, "Advertised minimum quantity for tier pricing")
	createDealCmd.Flags().StringVar(&createSizes, "sizes", "", "Size definitions as JSON")
	_ = createDealCmd.MarkFlagRequired("id")
	_ = createDealCmd.MarkFlagRequired("name")
	_ = createDealCmd.MarkFlagRequired("distributor")
	_ = createDealCmd.MarkFlagRequired("sizes")

	commitCmd.Flags().StringVar(&commitDeal, "deal", "", "Deal identifier")
	commitCmd.Flags().StringVar(&commitUser, "user", "", "Committing member identifier")
	commitCmd.Flags().StringToInt64Var(&commitQty, "qty", nil, "Requested quantities as size=count pairs")
	_ = commitCmd.MarkFlagRequired("deal")
	_ = commitCmd.MarkFlagRequired("user")
	_ = commitCmd.MarkFlagRequired("qty")

	reviewCmd.Flags().StringVar(&reviewCommitment, "commitment", "", "Commitment identifier")
	reviewCmd.Flags().StringVar(&reviewStatus, "status", "", "New status (approved or declined)")
	_ = reviewCmd.MarkFlagRequired("commitment")
	_ = reviewCmd.MarkFlagRequired("status")
}
