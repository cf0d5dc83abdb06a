package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/banner"
	"github.com/asd12288/meydacrm/internal/comment"
	"github.com/asd12288/meydacrm/internal/history"
	"github.com/asd12288/meydacrm/internal/lead"
	"github.com/asd12288/meydacrm/internal/ticket"
)

const timeLayout = "2006-01-02 15:04"

// printJSON marshals v as indented JSON and writes it to w.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printLeadSummary prints a single lead in text format.
func printLeadSummary(w io.Writer, l *lead.Lead) {
	fmt.Fprintf(w, "Lead #%d\n", l.ID)
	fmt.Fprintf(w, "  Name:     %s\n", orDash(l.FullName()))
	fmt.Fprintf(w, "  Status:   %s\n", l.Status.Label())
	fmt.Fprintf(w, "  Assignee: %s\n", orDash(l.AssigneeName))
	for _, f := range []struct{ label, value string }{
		{"Company:  ", l.Company},
		{"Title:    ", l.JobTitle},
		{"Email:    ", l.Email},
		{"Phone:    ", l.Phone},
		{"Address:  ", l.FullAddress()},
		{"Source:   ", l.Source},
	} {
		if f.value != "" {
			fmt.Fprintf(w, "  %s%s\n", f.label, f.value)
		}
	}
	if l.Latitude != nil && l.Longitude != nil {
		fmt.Fprintf(w, "  Location: %.5f, %.5f\n", *l.Latitude, *l.Longitude)
	}
	fmt.Fprintf(w, "  Created:  %s\n", l.CreatedAt.Local().Format(timeLayout))
	if l.Notes != "" {
		fmt.Fprintf(w, "  Notes:\n    %s\n", strings.ReplaceAll(l.Notes, "\n", "\n    "))
	}
}

// printLeadTable prints one page of leads as a formatted table.
func printLeadTable(out io.Writer, page *lead.Page) error {
	if len(page.Leads) == 0 {
		fmt.Fprintln(out, "No leads found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(w, "ID\tNAME\tCOMPANY\tSTATUS\tASSIGNEE\tCREATED"); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	if _, err := fmt.Fprintln(w, "--\t----\t-------\t------\t--------\t-------"); err != nil {
		return fmt.Errorf("writing table separator: %w", err)
	}

	for _, l := range page.Leads {
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, truncate(orDash(l.FullName()), 30), truncate(orDash(l.Company), 25),
			l.Status.Label(), orDash(l.AssigneeName), l.CreatedAt.Local().Format("2006-01-02")); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing table: %w", err)
	}

	shown := (page.Page-1)*page.PageSize + len(page.Leads)
	fmt.Fprintf(out, "\nShowing %d of %d leads (page %d)\n", shown, page.Total, page.Page)
	return nil
}

// printStats prints dashboard counters.
func printStats(w io.Writer, st *lead.Stats) {
	fmt.Fprintf(w, "Total:      %d\n", st.Total)
	fmt.Fprintf(w, "Unassigned: %d\n", st.Unassigned)
	if len(st.ByStatus) > 0 {
		fmt.Fprintln(w, "\nBy status:")
		for _, s := range st.ByStatus {
			fmt.Fprintf(w, "  %-14s %d\n", s.Label, s.Count)
		}
	}
	if len(st.ByAssignee) > 0 {
		fmt.Fprintln(w, "\nBy assignee:")
		for _, a := range st.ByAssignee {
			fmt.Fprintf(w, "  %-14s %d\n", a.Name, a.Count)
		}
	}
}

// printCommentList prints comments in text format.
func printCommentList(w io.Writer, comments []*comment.Comment) {
	if len(comments) == 0 {
		fmt.Fprintln(w, "No comments.")
		return
	}

	for _, c := range comments {
		author := c.AuthorName
		if author == "" {
			author = "deleted user"
		}
		fmt.Fprintf(w, "[%s] #%d (%s)\n  %s\n\n",
			c.CreatedAt.Local().Format(timeLayout), c.ID, author, c.Body)
	}
}

// printHistory prints a lead's audit trail.
func printHistory(w io.Writer, events []*history.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No history.")
		return
	}
	for _, e := range events {
		actor := e.ActorName
		if actor == "" {
			actor = "system"
		}
		fmt.Fprintf(w, "[%s] %s by %s\n", e.CreatedAt.Local().Format(timeLayout), e.Type.Label(), actor)
	}
}

// printTicketTable prints tickets as a formatted table.
func printTicketTable(out io.Writer, tickets []*ticket.Ticket) error {
	if len(tickets) == 0 {
		fmt.Fprintln(out, "No tickets.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tCATEGORY\tSTATUS\tFROM\tUPDATED")
	for _, t := range tickets {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, truncate(t.Subject, 40), t.Category.Label(), t.Status.Label(),
			t.CreatorName, t.UpdatedAt.Local().Format(timeLayout))
	}
	return w.Flush()
}

// printTicket prints a ticket and its thread.
func printTicket(w io.Writer, t *ticket.Ticket) {
	fmt.Fprintf(w, "Ticket #%d: %s\n", t.ID, t.Subject)
	fmt.Fprintf(w, "  Category: %s\n", t.Category.Label())
	fmt.Fprintf(w, "  Priority: %s\n", t.Priority)
	fmt.Fprintf(w, "  Status:   %s\n", t.Status.Label())
	fmt.Fprintf(w, "  From:     %s\n", t.CreatorName)
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
	for _, c := range t.Comments {
		who := c.AuthorName
		if c.FromAdmin {
			who += " (support)"
		}
		fmt.Fprintf(w, "\n[%s] %s\n  %s\n", c.CreatedAt.Local().Format(timeLayout), who, c.Body)
	}
}

// printBannerList prints banners one per line.
func printBannerList(w io.Writer, banners []*banner.Banner) {
	if len(banners) == 0 {
		fmt.Fprintln(w, "No banners.")
		return
	}
	for _, b := range banners {
		state := ""
		if !b.Active {
			state = " (inactive)"
		}
		fmt.Fprintf(w, "#%d [%s] %s%s\n", b.ID, b.Level, b.Message, state)
		if b.ExpiresAt != nil {
			fmt.Fprintf(w, "  until %s\n", b.ExpiresAt.Local().Format(timeLayout))
		}
	}
}

// printProfileTable prints profiles as a formatted table.
func printProfileTable(out io.Writer, profiles []*auth.Profile) error {
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No profiles.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tROLE\tACTIVE\tLAST LOGIN")
	for _, p := range profiles {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Username, orDash(p.DisplayName), p.Role, yesNo(p.Active), formatOptionalTime(p.LastLoginAt))
	}
	return w.Flush()
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeLayout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
