package cli

import (
	"context"

	"github.com/spf13/cobra"

	refinementrepo "refinery/internal/gateway/repository/refinement"
	"refinery/internal/gateway/service/refinement"
)

var (
	historyUser  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List the newest stored refinements of a user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if historyLimit < 0 || historyLimit > refinementrepo.MaxHistoryLimit {
			return NewCLIError("invalid --limit", "Use a value between 1 and 100", nil)
		}
		return withService(cmd, func(ctx context.Context, svc *refinement.Service) error {
			recs, err := svc.History(ctx, historyUser, historyLimit)
			if err != nil {
				return MapError(err)
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			RenderRecords(cmd.OutOrStdout(), recs)
			return nil
		})
	},
}

var revisionsCmd = &cobra.Command{
	Use:   "revisions <input-id>",
	Short: "List every revision of a stored input, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *refinement.Service) error {
			recs, err := svc.Revisions(ctx, args[0])
			if err != nil {
				return MapError(err)
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), recs)
			}
			RenderRecords(cmd.OutOrStdout(), recs)
			return nil
		})
	},
}

func init() {
	historyCmd.Flags().StringVarP(&historyUser, "user", "u", "", "User id to list (default \"anonymous\")")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", refinementrepo.DefaultHistoryLimit, "Maximum number of records")
	RootCmd.AddCommand(historyCmd)
	RootCmd.AddCommand(revisionsCmd)
}
