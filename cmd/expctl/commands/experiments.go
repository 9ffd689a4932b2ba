package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goflagship/experiments/internal/cli"
	"github.com/goflagship/experiments/internal/client"
)

var (
	expProjectID   string
	expKey         string
	expName        string
	expDescription string
	expKind        string
	expStatus      string
)

var experimentsCmd = &cobra.Command{
	Use:   "experiments",
	Short: "Manage experiments",
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	Long: `List experiments, optionally narrowed to one project.

Examples:
  expctl experiments list
  expctl experiments list --project <project-id> --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		experiments, err := c.ListExperiments(context.Background(), expProjectID)
		if err != nil {
			return fmt.Errorf("failed to list experiments: %w", err)
		}
		if quiet {
			return nil
		}
		if len(experiments) == 0 {
			fmt.Println("No experiments found")
			return nil
		}
		return cli.PrintExperiments(experiments, cli.OutputFormat(format))
	},
}

var experimentsGetCmd = &cobra.Command{
	Use:   "get <experiment-id>",
	Short: "Show one experiment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.GetExperiment(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get experiment: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintExperiments([]client.Experiment{*e}, cli.OutputFormat(format))
	},
}

var experimentsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an experiment",
	Long: `Create an experiment in draft status. Toggle experiments are seeded
with their enabled/control variant pair automatically.

Examples:
  expctl experiments create --project <project-id> --key checkout --name "Checkout test" --kind multi
  expctl experiments create --project <project-id> --key dark_mode --name "Dark mode" --kind toggle`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if expProjectID == "" || expKey == "" || expName == "" || expKind == "" {
			return fmt.Errorf("--project, --key, --name and --kind are required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.CreateExperiment(context.Background(), client.Experiment{
			ProjectID:   expProjectID,
			Key:         expKey,
			Name:        expName,
			Description: expDescription,
			Kind:        expKind,
		})
		if err != nil {
			return fmt.Errorf("failed to create experiment: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintExperiments([]client.Experiment{*e}, cli.OutputFormat(format))
	},
}

var experimentsUpdateCmd = &cobra.Command{
	Use:   "update <experiment-id>",
	Short: "Update an experiment's name, description or status",
	Long: `Update an experiment. Status only moves forward: draft, running,
completed.

Examples:
  expctl experiments update <experiment-id> --status running`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.UpdateExperiment(context.Background(), args[0], client.Experiment{
			Name:        expName,
			Description: expDescription,
			Status:      expStatus,
		})
		if err != nil {
			return fmt.Errorf("failed to update experiment: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintExperiments([]client.Experiment{*e}, cli.OutputFormat(format))
	},
}

var experimentsDeleteCmd = &cobra.Command{
	Use:   "delete <experiment-id>",
	Short: "Delete an experiment and its variants and distributions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.DeleteExperiment(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete experiment: %w", err)
		}
		if !quiet {
			fmt.Println("Deleted.")
		}
		return nil
	},
}

var experimentsStatsCmd = &cobra.Command{
	Use:   "stats <experiment-id>",
	Short: "Show per-variant assignment percentages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Stats(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch stats: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintStats(res, cli.OutputFormat(format))
	},
}

var experimentsRecalculateCmd = &cobra.Command{
	Use:   "recalculate <experiment-id>",
	Short: "Reconcile persisted assignments with the current variant configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.Recalculate(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to recalculate: %w", err)
		}
		if quiet {
			return nil
		}
		fmt.Printf("Changed %d distributions\n", res.CountChanged)
		return cli.PrintStats(res, cli.OutputFormat(format))
	},
}

func init() {
	rootCmd.AddCommand(experimentsCmd)
	experimentsCmd.AddCommand(experimentsListCmd)
	experimentsCmd.AddCommand(experimentsGetCmd)
	experimentsCmd.AddCommand(experimentsCreateCmd)
	experimentsCmd.AddCommand(experimentsUpdateCmd)
	experimentsCmd.AddCommand(experimentsDeleteCmd)
	experimentsCmd.AddCommand(experimentsStatsCmd)
	experimentsCmd.AddCommand(experimentsRecalculateCmd)

	experimentsListCmd.Flags().StringVar(&expProjectID, "project", "", "Project ID")
	experimentsCreateCmd.Flags().StringVar(&expProjectID, "project", "", "Project ID")
	experimentsCreateCmd.Flags().StringVar(&expKey, "key", "", "Experiment key (unique within the project)")
	experimentsCreateCmd.Flags().StringVar(&expName, "name", "", "Experiment name")
	experimentsCreateCmd.Flags().StringVar(&expDescription, "description", "", "Experiment description")
	experimentsCreateCmd.Flags().StringVar(&expKind, "kind", "", "Experiment kind (toggle or multi)")
	experimentsUpdateCmd.Flags().StringVar(&expName, "name", "", "New name")
	experimentsUpdateCmd.Flags().StringVar(&expDescription, "description", "", "New description")
	experimentsUpdateCmd.Flags().StringVar(&expStatus, "status", "", "New status (draft, running, completed)")
}
