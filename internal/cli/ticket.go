package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/ticket"
)

func newTicketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ticket",
		Aliases: []string{"tickets"},
		Short:   "Open and follow support tickets",
	}
	cmd.AddCommand(newTicketListCmd(), newTicketShowCmd(), newTicketOpenCmd(), newTicketReplyCmd(), newTicketStatusCmd())
	return cmd
}

func newTicketListCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tickets, err := newAPIClient().ListTickets(status)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), tickets)
			}
			return printTicketTable(cmd.OutOrStdout(), tickets)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "open, in_progress, resolved or closed")
	return cmd
}

func newTicketShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket and its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("ticket", args[0])
			if err != nil {
				return err
			}
			t, err := newAPIClient().GetTicket(id)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), t)
			}
			printTicket(cmd.OutOrStdout(), t)
			return nil
		},
	}
}

func newTicketOpenCmd() *cobra.Command {
	var in ticket.Input
	var category, priority string

	cmd := &cobra.Command{
		Use:   `open "subject"`,
		Short: "Open a support ticket",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Subject = strings.Join(args, " ")
			in.Category = ticket.Category(category)
			in.Priority = ticket.Priority(priority)

			t, err := newAPIClient().OpenTicket(in)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Ticket #%d opened.\n", t.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "details of the problem")
	cmd.Flags().StringVar(&category, "category", string(ticket.CategoryOther), "bug, feature, account, billing or other")
	cmd.Flags().StringVar(&priority, "priority", string(ticket.PriorityNormal), "low, normal or high")

	return cmd
}

func newTicketReplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   `reply <id> "text"`,
		Short: "Reply to a ticket",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("ticket", args[0])
			if err != nil {
				return err
			}
			c, err := newAPIClient().ReplyTicket(id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), c)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Reply added to ticket #%d.\n", id)
			return nil
		},
	}
}

func newTicketStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Change a ticket's status",
		Long:  "Set a ticket's status. Admins may set any status; the ticket's author may close it.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("ticket", args[0])
			if err != nil {
				return err
			}
			status := ticket.Status(args[1])
			if !status.IsValid() {
				return fmt.Errorf("%w: %s", ticket.ErrInvalidStatus, args[1])
			}
			t, err := newAPIClient().SetTicketStatus(id, string(status))
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ticket #%d is now %s.\n", t.ID, t.Status.Label())
			return nil
		},
	}
}
