package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/docflow-cli/internal/review"
)

var (
	reviewReason      string
	reviewNotes       string
	reviewConfirmOpen bool
	reviewOverride    bool
	reviewConfirmCode string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Bulk review operations on documents",
}

func printTally(t *review.Tally) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <document-id> ...",
	Short: "Approve documents into the master dataset",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return printTally(env.Review.BulkApprove(cmd.Context(), args, review.ApproveRequest{
			Notes:             reviewNotes,
			ConfirmOpenErrors: reviewConfirmOpen,
			OverrideCritical:  reviewOverride,
		}))
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <document-id> ...",
	Short: "Reject documents with a reason",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return printTally(env.Review.BulkReject(cmd.Context(), args, reviewReason))
	},
}

var reviewAnnulCmd = &cobra.Command{
	Use:   "annul <document-id> ...",
	Short: "Move documents to the unprocessable registry and reject them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		return printTally(env.Review.BulkAnnul(cmd.Context(), args, reviewReason))
	},
}

var reviewDeleteCmd = &cobra.Command{
	Use:   "delete <document-id> ...",
	Short: "Delete documents outright (requires the confirmation code)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		tally, err := env.Review.BulkDelete(cmd.Context(), args, reviewConfirmCode)
		if err != nil {
			return err
		}
		return printTally(tally)
	},
}

func init() {
	reviewApproveCmd.Flags().StringVar(&reviewNotes, "notes", "", "reviewer notes")
	reviewApproveCmd.Flags().BoolVar(&reviewConfirmOpen, "confirm-open-errors", false, "approve despite open validation errors")
	reviewApproveCmd.Flags().BoolVar(&reviewOverride, "override-critical", false, "approve despite open critical errors")

	reviewRejectCmd.Flags().StringVar(&reviewReason, "reason", "", "rejection reason (required)")
	reviewAnnulCmd.Flags().StringVar(&reviewReason, "reason", "", "annulment reason (required)")

	reviewDeleteCmd.Flags().StringVar(&reviewConfirmCode, "confirm-code", "", "numeric confirmation code")

	reviewCmd.AddCommand(reviewApproveCmd, reviewRejectCmd, reviewAnnulCmd, reviewDeleteCmd)
	rootCmd.AddCommand(reviewCmd)
}
