package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goflagship/experiments/internal/cli"
	"github.com/goflagship/experiments/internal/client"
)

var (
	projectTitle       string
	projectDescription string
)

// newClient resolves flags/config into an authenticated admin client.
func newClient() (*client.Client, error) {
	url, tok, err := cli.Resolve(baseURL, token)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return client.NewClient(url, tok), nil
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		projects, err := c.ListProjects(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list projects: %w", err)
		}
		if quiet {
			return nil
		}
		if len(projects) == 0 {
			fmt.Println("No projects found")
			return nil
		}
		return cli.PrintProjects(projects, cli.OutputFormat(format))
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a project",
	Long: `Create a project. The response includes the generated API key clients
use on the library surface.

Examples:
  expctl projects create --title "Mobile app"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if projectTitle == "" {
			return fmt.Errorf("--title is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		p, err := c.CreateProject(context.Background(), projectTitle, projectDescription)
		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintProjects([]client.Project{*p}, cli.OutputFormat(format))
	},
}

func init() {
	rootCmd.AddCommand(projectsCmd)
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)

	projectsCreateCmd.Flags().StringVar(&projectTitle, "title", "", "Project title")
	projectsCreateCmd.Flags().StringVar(&projectDescription, "description", "", "Project description")
}
