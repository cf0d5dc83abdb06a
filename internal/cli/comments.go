package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <id>",
		Short: "List comments for a lead",
		Args:  cobra.ExactArgs(1),
		RunE:  runComments,
	}
}

func runComments(cmd *cobra.Command, args []string) error {
	id, err := parseID("lead", args[0])
	if err != nil {
		return err
	}

	comments, err := newAPIClient().ListComments(id)
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), comments)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Comments for lead #%d:\n\n", id)
	printCommentList(cmd.OutOrStdout(), comments)
	return nil
}
