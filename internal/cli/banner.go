package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/banner"
)

func newBannerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "banner",
		Aliases: []string{"banners"},
		Short:   "Show or publish announcements",
	}
	cmd.AddCommand(newBannerListCmd(), newBannerAddCmd())
	return cmd
}

func newBannerListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the banners shown to you now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			banners, err := newAPIClient().ActiveBanners()
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), banners)
			}
			printBannerList(cmd.OutOrStdout(), banners)
			return nil
		},
	}
}

func newBannerAddCmd() *cobra.Command {
	var (
		level, role string
		users       []int64
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   `add "message"`,
		Short: "Publish a banner",
		Long:  "Publish a banner to everyone, to one role (--role) or to chosen profiles (--users). Admins only.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := banner.Input{
				Message: strings.Join(args, " "),
				Level:   banner.Level(level),
			}
			switch {
			case role != "" && len(users) > 0:
				return fmt.Errorf("--role and --users are exclusive")
			case role != "":
				in.Audience, in.TargetRole = banner.AudienceRole, role
			case len(users) > 0:
				in.Audience, in.TargetIDs = banner.AudienceUsers, users
			}
			if duration > 0 {
				now := time.Now()
				expires := now.Add(duration)
				in.StartsAt, in.ExpiresAt = &now, &expires
			}

			b, err := newAPIClient().CreateBanner(in)
			if err != nil {
				return err
			}
			if isJSON() {
				return printJSON(cmd.OutOrStdout(), b)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Banner #%d published.\n", b.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", string(banner.LevelInfo), "info, warning or critical")
	cmd.Flags().StringVar(&role, "role", "", "only show to this role (admin|sales)")
	cmd.Flags().Int64SliceVar(&users, "users", nil, "only show to these profile IDs")
	cmd.Flags().DurationVar(&duration, "for", 0, "expire after this long (e.g. 48h)")

	return cmd
}
