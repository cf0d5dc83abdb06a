package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asd12288/meydacrm/internal/client"
)

func newLoginCmd() *cobra.Command {
	var server, username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store an API key",
		Long:  "Exchange your username and password for an API key, saved in ~/.config/crm/config.yaml.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.InOrStdin(), cmd.OutOrStdout(), server, username)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server URL (default: from config or http://localhost:8080)")
	cmd.Flags().StringVarP(&username, "username", "u", "", "username (prompted if empty)")

	return cmd
}

func runLogin(in io.Reader, out io.Writer, serverFlag, username string) error {
	serverURL := serverFlag
	if serverURL == "" {
		serverURL = getServerURL()
	}

	reader := bufio.NewReader(in)
	if username == "" {
		fmt.Fprint(out, "Username: ")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("reading input: %w", err)
		}
		username = strings.TrimSpace(line)
	}
	if username == "" {
		return fmt.Errorf("no username provided")
	}
	password, err := promptPassword(reader, out)
	if err != nil {
		return err
	}

	resp, err := client.New(serverURL, "").Login(username, password, keyName())
	if err != nil {
		return err
	}
	if err := validateAPIKey(resp.Key); err != nil {
		return err
	}

	err = updateConfig(func(cfg *CLIConfig) {
		cfg.APIKey = resp.Key
		cfg.Username = username
		if serverFlag != "" {
			cfg.ServerURL = serverFlag
		}
	})
	if err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Fprintf(out, "\n✓ Logged in as %s. API key saved.\n", username)
	return nil
}

// validateAPIKey checks that the key is non-empty and has the expected prefix.
func validateAPIKey(key string) error {
	if key == "" {
		return fmt.Errorf("no API key provided")
	}
	if !strings.HasPrefix(key, "crm_") {
		return fmt.Errorf("invalid API key format (should start with crm_)")
	}
	return nil
}

// keyName labels the key in the web UI's key list.
func keyName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "CLI"
	}
	return "CLI (" + host + ")"
}
