package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/client"
)

func newLeadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lead",
		Aliases: []string{"leads"},
		Short:   "Work with leads through the API",
	}
	cmd.AddCommand(
		newListCmd(),
		newStatsCmd(),
		newShowCmd(),
		newAddCmd(),
		newMoveCmd(),
		newAssignCmd(),
		newDistributeCmd(),
		newCommentCmd(),
		newCommentsCmd(),
		newHistoryCmd(),
		newExportCmd(),
		newImportCmd(),
		newRemoveCmd(),
	)
	return cmd
}

// leadFilter holds the filter flags shared by list and export.
type leadFilter struct {
	statuses []string
	assignee string
	source   string
	search   string
	from     string
	to       string
}

func (f *leadFilter) bind(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.statuses, "status", nil, "only these statuses (repeatable or comma separated)")
	cmd.Flags().StringVar(&f.assignee, "assignee", "", "profile ID, or \"unassigned\"")
	cmd.Flags().StringVar(&f.source, "source", "", "lead source")
	cmd.Flags().StringVarP(&f.search, "search", "q", "", "search name, company, email or phone")
	cmd.Flags().StringVar(&f.from, "from", "", "created on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "created on or before (YYYY-MM-DD)")
}

func (f *leadFilter) query() client.LeadQuery {
	return client.LeadQuery{
		Statuses: f.statuses,
		Assignee: f.assignee,
		Source:   f.source,
		Search:   f.search,
		From:     f.from,
		To:       f.to,
	}
}

// parseID parses a numeric ID argument.
func parseID(kind, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", kind, arg)
	}
	return id, nil
}
