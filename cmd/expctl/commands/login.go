package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goflagship/experiments/internal/cli"
	"github.com/goflagship/experiments/internal/client"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the admin API and save the session token",
	Long: `Log in with admin credentials and persist the resulting session token
to ~/.expctl/config.yaml for subsequent commands.

Examples:
  expctl login --base-url http://localhost:8080 --email admin@example.com
  expctl login --email admin@example.com --password secret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if baseURL == "" {
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			baseURL = cfg.BaseURL
		}
		if baseURL == "" {
			return fmt.Errorf("--base-url is required on first login")
		}
		if loginEmail == "" {
			return fmt.Errorf("--email is required")
		}

		password := loginPassword
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			raw, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(raw, "\r\n")
		}

		c := client.NewClient(baseURL, "")
		sessionToken, err := c.Login(context.Background(), loginEmail, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		if err := cli.SaveConfig(&cli.Config{BaseURL: baseURL, Token: sessionToken}); err != nil {
			return err
		}
		if !quiet {
			fmt.Println("Logged in.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Admin email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Admin password (prompted if omitted)")
}
