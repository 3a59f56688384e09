package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/partmatch/internal/store"
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "Work the manual review queue",
	Long:  "Commands for listing and resolving line items escalated to manual review.",
}

// -- reviews list --

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review queue entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		runID, _ := cmd.Flags().GetString("run")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListReviews(ctx, store.ReviewFilter{
			RunID:  runID,
			Status: store.ReviewStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "reviews list")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No reviews found.")
			return nil
		}

		formatReviewsList(os.Stdout, entries)
		return nil
	},
}

// -- reviews show --

var reviewsShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show a review entry with its attempt history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.ListReviews(ctx, store.ReviewFilter{})
		if err != nil {
			return eris.Wrap(err, "reviews show")
		}
		for _, e := range entries {
			if e.ID == args[0] {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(e)
			}
		}
		return eris.Errorf("review %s not found", args[0])
	},
}

// -- reviews resolve --

var reviewsResolveCmd = &cobra.Command{
	Use:   "resolve <review-id>",
	Short: "Mark a review entry as resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		resolution, _ := cmd.Flags().GetString("note")
		if err := st.ResolveReview(ctx, args[0], resolution); err != nil {
			return eris.Wrap(err, "reviews resolve")
		}

		fmt.Fprintf(os.Stdout, "Resolved %s\n", args[0])
		return nil
	},
}

func init() {
	reviewsListCmd.Flags().String("run", "", "filter by run ID")
	reviewsListCmd.Flags().String("status", "pending", "filter by status (pending, resolved); empty for all")
	reviewsListCmd.Flags().Int("limit", 50, "max number of entries to display")

	reviewsResolveCmd.Flags().String("note", "", "resolution note")

	reviewsCmd.AddCommand(reviewsListCmd)
	reviewsCmd.AddCommand(reviewsShowCmd)
	reviewsCmd.AddCommand(reviewsResolveCmd)
	rootCmd.AddCommand(reviewsCmd)
}

// formatReviewsList writes a tabular list of review entries to w.
func formatReviewsList(out io.Writer, entries []store.ReviewEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tLINE_ITEM\tREASON\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t---\t---------\t------\t------\t-------")

	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(e.ID),
			truncateID(e.RunID),
			e.Record.LineItemID,
			e.Record.Reason,
			e.Status,
			e.CreatedAt.Format(time.RFC3339),
		)
	}
	_ = w.Flush()
}
