package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"remove"},
		Short:   "Move a lead to the trash",
		Long:    "Soft-delete a lead. Admins can restore it from the trash until it is purged.",
		Args:    cobra.ExactArgs(1),
		RunE:    runRemove,
	}
}

func runRemove(cmd *cobra.Command, args []string) error {
	id, err := parseID("lead", args[0])
	if err != nil {
		return err
	}

	if err := newAPIClient().DeleteLead(id); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{"id": id, "deleted": true})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Lead #%d moved to the trash.\n", id)
	return nil
}
