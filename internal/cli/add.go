package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/lead"
)

func newAddCmd() *cobra.Command {
	var (
		in       lead.Input
		status   string
		assignee int64
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a lead",
		Long:  "Create a lead. A first or last name is required. Leads added by sales are assigned to them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if in.FirstName == "" && in.LastName == "" {
				return fmt.Errorf("--first or --last is required")
			}
			if status != "" {
				st, err := lead.ParseStatus(status)
				if err != nil {
					return err
				}
				in.Status = st
			}
			if assignee > 0 {
				in.AssignedTo = &assignee
			}

			l, err := newAPIClient().CreateLead(in)
			if err != nil {
				return fmt.Errorf("adding lead: %w", err)
			}

			if isJSON() {
				return printJSON(cmd.OutOrStdout(), l)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Lead added.")
			printLeadSummary(cmd.OutOrStdout(), l)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&in.FirstName, "first", "", "first name")
	f.StringVar(&in.LastName, "last", "", "last name")
	f.StringVar(&in.Email, "email", "", "email address")
	f.StringVar(&in.Phone, "phone", "", "phone number")
	f.StringVar(&in.Company, "company", "", "company")
	f.StringVar(&in.JobTitle, "title", "", "job title")
	f.StringVar(&in.Address, "address", "", "street address")
	f.StringVar(&in.City, "city", "", "city")
	f.StringVar(&in.PostalCode, "postal-code", "", "postal code")
	f.StringVar(&in.Country, "country", "", "country")
	f.StringVar(&in.Source, "source", "", "where the lead came from")
	f.StringVar(&in.Notes, "notes", "", "free-form notes")
	f.StringVar(&status, "status", "", "initial status (default new)")
	f.Int64Var(&assignee, "assign", 0, "assignee profile ID (admins only)")

	return cmd
}
