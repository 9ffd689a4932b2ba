package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL string
	token   string
	format  string
	quiet   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "expctl",
	Short: "CLI tool for managing experiments",
	Long: `Expctl is a command-line tool for administering the experimentation
service: projects, experiments, variants and assignment statistics.

Examples:
  expctl login --base-url http://localhost:8080 --email admin@example.com
  expctl projects list
  expctl experiments list --project <project-id>
  expctl experiments create --project <project-id> --key checkout --name "Checkout test" --kind multi
  expctl variants list --experiment <experiment-id>
  expctl experiments recalculate <experiment-id>`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the admin API")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Admin session token (overrides the saved one)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
}
