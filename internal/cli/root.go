// Package cli defines the cobra command tree for the crm binary.
package cli

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/client"
	"github.com/asd12288/meydacrm/internal/config"
	"github.com/asd12288/meydacrm/internal/db"
)

var (
	flagFormat string
	flagDB     string
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crm",
		Short:         "Meyda CRM server and command-line client",
		Long:          "Run the CRM server, manage profiles on its database, or work with leads, tickets and banners through the API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "database DSN for server-side commands (default: CRM_DB_DSN or ~/.meydacrm/crm.db)")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newUserCmd(),
		newLeadCmd(),
		newTicketCmd(),
		newBannerCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	return root
}

// dbDSN resolves the database from --db, the server config, or the
// default SQLite path.
func dbDSN(cfg config.Config) (string, error) {
	if flagDB != "" {
		return flagDB, nil
	}
	if cfg.DBDSN != "" {
		return cfg.DBDSN, nil
	}
	return db.DefaultPath()
}

// openDB opens and migrates the database for server-side commands.
func openDB() (*sqlx.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	dsn, err := dbDSN(cfg)
	if err != nil {
		return nil, err
	}
	return db.Open(dsn)
}

// newAPIClient creates an HTTP client for the CRM API.
func newAPIClient() *client.Client {
	return client.New(getServerURL(), getAPIKey())
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}

// closeDB closes the database, logging any error to stderr.
func closeDB(database *sqlx.DB) {
	if err := database.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing database: %v\n", err)
	}
}
