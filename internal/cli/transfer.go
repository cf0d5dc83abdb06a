package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var (
		filter leadFilter
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export leads as CSV",
		Long:  "Download the leads matching the filters as a CSV file that opens in Excel. Writes to stdout with -o -.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = fmt.Sprintf("prospects-%s.csv", time.Now().Format("2006-01-02"))
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("creating %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			if err := newAPIClient().ExportLeads(filter.query(), w); err != nil {
				return err
			}
			if output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported to %s\n", output)
			}
			return nil
		},
	}

	filter.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default prospects-YYYY-MM-DD.csv)")

	return cmd
}

func newImportCmd() *cobra.Command {
	var assignTo int64

	cmd := &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import leads from a CSV file",
		Long:  "Upload a CSV with a header row. Comma and semicolon separators are detected; French or English column names are accepted. Admins only.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			var assignee *int64
			if assignTo > 0 {
				assignee = &assignTo
			}
			res, err := newAPIClient().ImportLeads(f, assignee)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if isJSON() {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "Imported %d leads, skipped %d.\n", res.Imported, res.Skipped)
			for _, e := range res.Errors {
				fmt.Fprintf(out, "  line %d: %s\n", e.Line, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&assignTo, "assign-to", 0, "assign imported leads without an assignee to this profile")

	return cmd
}
