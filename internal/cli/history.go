package cli

import (
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show a lead's audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("lead", args[0])
			if err != nil {
				return err
			}
			events, err := newAPIClient().LeadHistory(id)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), events)
			}
			printHistory(cmd.OutOrStdout(), events)
			return nil
		},
	}
}
