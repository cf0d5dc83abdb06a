package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/lead"
)

func newMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a lead to another pipeline status",
		Long:  "Set a lead's status. Accepts the status value (callback) or its label (\"À rappeler\").",
		Args:  cobra.ExactArgs(2),
		RunE:  runMove,
	}
}

func runMove(cmd *cobra.Command, args []string) error {
	id, err := parseID("lead", args[0])
	if err != nil {
		return err
	}
	status, err := lead.ParseStatus(args[1])
	if err != nil {
		return fmt.Errorf("%w: %s", err, args[1])
	}

	l, err := newAPIClient().MoveLead(id, string(status))
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), l)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Lead #%d is now %s.\n", l.ID, l.Status.Label())
	return nil
}
