package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goflagship/experiments/internal/cli"
	"github.com/goflagship/experiments/internal/client"
)

var (
	variantExperimentID string
	variantKey          string
	variantRollout      float64
	variantPayload      string
)

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "Manage variants",
}

var variantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an experiment's variants",
	RunE: func(cmd *cobra.Command, args []string) error {
		if variantExperimentID == "" {
			return fmt.Errorf("--experiment is required")
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		variants, err := c.ListVariants(context.Background(), variantExperimentID)
		if err != nil {
			return fmt.Errorf("failed to list variants: %w", err)
		}
		if quiet {
			return nil
		}
		if len(variants) == 0 {
			fmt.Println("No variants found")
			return nil
		}
		return cli.PrintVariants(variants, cli.OutputFormat(format))
	},
}

var variantsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a variant",
	Long: `Create a variant. The rollout must keep the experiment's rollout sum
at or below 1.0.

Examples:
  expctl variants create --experiment <experiment-id> --key treatment --rollout 0.5
  expctl variants create --experiment <experiment-id> --key control --rollout 0.5 --payload '{"color":"blue"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if variantExperimentID == "" || variantKey == "" {
			return fmt.Errorf("--experiment and --key are required")
		}
		payload := map[string]any{}
		if variantPayload != "" {
			if err := json.Unmarshal([]byte(variantPayload), &payload); err != nil {
				return fmt.Errorf("invalid --payload JSON: %w", err)
			}
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.CreateVariant(context.Background(), client.Variant{
			ExperimentID: variantExperimentID,
			Key:          variantKey,
			Rollout:      variantRollout,
			Payload:      payload,
		})
		if err != nil {
			return fmt.Errorf("failed to create variant: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintVariants([]client.Variant{*v}, cli.OutputFormat(format))
	},
}

var variantsSetRolloutCmd = &cobra.Command{
	Use:   "set-rollout <variant-id>",
	Short: "Change one variant's rollout share",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		v, err := c.UpdateVariantRollout(context.Background(), args[0], variantRollout)
		if err != nil {
			return fmt.Errorf("failed to update variant: %w", err)
		}
		if quiet {
			return nil
		}
		return cli.PrintVariants([]client.Variant{*v}, cli.OutputFormat(format))
	},
}

func init() {
	rootCmd.AddCommand(variantsCmd)
	variantsCmd.AddCommand(variantsListCmd)
	variantsCmd.AddCommand(variantsCreateCmd)
	variantsCmd.AddCommand(variantsSetRolloutCmd)

	variantsListCmd.Flags().StringVar(&variantExperimentID, "experiment", "", "Experiment ID")
	variantsCreateCmd.Flags().StringVar(&variantExperimentID, "experiment", "", "Experiment ID")
	variantsCreateCmd.Flags().StringVar(&variantKey, "key", "", "Variant key (unique within the experiment)")
	variantsCreateCmd.Flags().Float64Var(&variantRollout, "rollout", 0, "Rollout share in [0, 1]")
	variantsCreateCmd.Flags().StringVar(&variantPayload, "payload", "", "Variant payload as JSON")
	variantsSetRolloutCmd.Flags().Float64Var(&variantRollout, "rollout", 0, "Rollout share in [0, 1]")
}
