package cli

import (
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var (
		filter   leadFilter
		sort     string
		desc     bool
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		Long:  "List the leads you can see, newest first unless --sort is given. Sales only see their own leads.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := filter.query()
			q.Sort, q.Desc, q.Page, q.PageSize = sort, desc, page, pageSize

			result, err := newAPIClient().ListLeads(q)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), result)
			}
			return printLeadTable(cmd.OutOrStdout(), result)
		},
	}

	filter.bind(cmd)
	cmd.Flags().StringVar(&sort, "sort", "", "sort by created_at, updated_at or last_name")
	cmd.Flags().BoolVar(&desc, "desc", false, "reverse the sort order")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 50, "leads per page (max 200)")

	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show lead counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient().LeadStats()
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), st)
			}
			printStats(cmd.OutOrStdout(), st)
			return nil
		},
	}
}
