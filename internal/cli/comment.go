package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `comment <id> "text"`,
		Short: "Add a comment to a lead",
		Long:  "Add a text comment to a lead. It also appears in the lead's history.",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runComment,
	}
}

func runComment(cmd *cobra.Command, args []string) error {
	id, err := parseID("lead", args[0])
	if err != nil {
		return err
	}

	text := strings.TrimSpace(strings.Join(args[1:], " "))
	if text == "" {
		return fmt.Errorf("comment text is required")
	}

	comm, err := newAPIClient().AddComment(id, text)
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), comm)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Comment #%d added.\n  %s\n", comm.ID, comm.Body)
	return nil
}
