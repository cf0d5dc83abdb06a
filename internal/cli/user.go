package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/auth"
)

// newUserCmd groups profile management commands. They work on the
// database directly so the first admin can be created before the server
// runs.
func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage profiles on the local database",
	}
	cmd.AddCommand(newUserAddCmd(), newUserListCmd(), newUserPasswdCmd(), newUserDisableCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var role, name, mail string

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return withProfiles(func(store *auth.ProfileStore, _ *sqlx.DB) error {
				p, err := store.Create(cmd.Context(), auth.NewProfile{
					Username:    args[0],
					DisplayName: name,
					Email:       mail,
					Role:        auth.Role(role),
					Password:    password,
				})
				if err != nil {
					return err
				}
				if isJSON() {
					return printJSON(cmd.OutOrStdout(), p)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s profile %q (#%d).\n", p.Role, p.Username, p.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", string(auth.RoleSales), "role (admin|sales)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&mail, "email", "", "email address for notifications and password resets")

	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfiles(func(store *auth.ProfileStore, _ *sqlx.DB) error {
				profiles, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				if isJSON() {
					return printJSON(cmd.OutOrStdout(), profiles)
				}
				return printProfileTable(cmd.OutOrStdout(), profiles)
			})
		},
	}
}

func newUserPasswdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a profile's password and end its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return withProfiles(func(store *auth.ProfileStore, database *sqlx.DB) error {
				ctx := cmd.Context()
				p, err := store.GetByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				if err := store.SetPassword(ctx, p.ID, password); err != nil {
					return err
				}
				if err := auth.NewSessionStore(database, false).DestroyForProfile(ctx, p.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Password updated for %q.\n", p.Username)
				return nil
			})
		},
	}
}

func newUserDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <username>",
		Short: "Deactivate a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProfiles(func(store *auth.ProfileStore, database *sqlx.DB) error {
				ctx := cmd.Context()
				p, err := store.GetByUsername(ctx, args[0])
				if err != nil {
					return err
				}
				if err := store.SetActive(ctx, p.ID, false); err != nil {
					return err
				}
				if err := auth.NewSessionStore(database, false).DestroyForProfile(ctx, p.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Deactivated %q.\n", p.Username)
				return nil
			})
		},
	}
}

func withProfiles(fn func(*auth.ProfileStore, *sqlx.DB) error) error {
	database, err := openDB()
	if err != nil {
		return err
	}
	defer closeDB(database)
	return fn(auth.NewProfileStore(database), database)
}

// promptPassword reads a password line from in. The prompt goes to out so
// piped input stays clean.
func promptPassword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return "", fmt.Errorf("no password provided")
	}
	return password, nil
}
