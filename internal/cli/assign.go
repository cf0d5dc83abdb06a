package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> <profile-id|none>",
		Short: "Assign a lead to a salesperson",
		Long:  "Set or clear a lead's assignee. Admins only.",
		Args:  cobra.ExactArgs(2),
		RunE:  runAssign,
	}
}

func runAssign(cmd *cobra.Command, args []string) error {
	id, err := parseID("lead", args[0])
	if err != nil {
		return err
	}

	var assignee *int64
	if args[1] != "none" {
		pid, err := parseID("profile", args[1])
		if err != nil {
			return err
		}
		assignee = &pid
	}

	l, err := newAPIClient().AssignLead(id, assignee)
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), l)
	}
	if l.AssignedTo == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Lead #%d is now unassigned.\n", l.ID)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Lead #%d assigned to %s.\n", l.ID, orDash(l.AssigneeName))
	return nil
}

func newDistributeCmd() *cobra.Command {
	var (
		to     []string
		offset int
	)

	cmd := &cobra.Command{
		Use:   "distribute <lead-id>... --to <profile-id>,...",
		Short: "Spread leads over salespeople round-robin",
		Long:  "Assign the given leads in turn to each profile in --to, starting with the profile at --offset. Admins only.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs("lead", args)
			if err != nil {
				return err
			}
			if len(to) == 0 {
				return fmt.Errorf("--to is required")
			}
			assignees, err := parseIDs("profile", to)
			if err != nil {
				return err
			}

			plan, err := newAPIClient().Distribute(ids, assignees, offset)
			if err != nil {
				return err
			}

			if isJSON() {
				return printJSON(cmd.OutOrStdout(), plan)
			}
			counts := map[int64]int{}
			for _, a := range plan {
				counts[a.AssignedTo]++
			}
			for _, pid := range assignees {
				fmt.Fprintf(cmd.OutOrStdout(), "  profile #%d: %d leads\n", pid, counts[pid])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Distributed %d leads.\n", len(plan))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&to, "to", nil, "profile IDs to distribute to")
	cmd.Flags().IntVar(&offset, "offset", 0, "index in --to of the first assignee")

	return cmd
}

func parseIDs(kind string, args []string) ([]int64, error) {
	var ids []int64
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid %s ID: %s", kind, part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
