package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show lead details",
		Long:  "Show full details for a lead, including all comments.",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseID("lead", args[0])
	if err != nil {
		return err
	}

	c := newAPIClient()
	l, err := c.GetLead(id)
	if err != nil {
		return err
	}
	comments, err := c.ListComments(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if isJSON() {
		return printJSON(out, map[string]interface{}{"lead": l, "comments": comments})
	}

	printLeadSummary(out, l)
	fmt.Fprintln(out)
	if len(comments) > 0 {
		fmt.Fprintf(out, "Comments (%d):\n", len(comments))
	}
	printCommentList(out, comments)
	return nil
}
