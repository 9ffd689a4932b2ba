package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/goflagship/experiments/internal/client"
)

// OutputFormat specifies the output format for CLI commands.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// PrintProjects outputs projects in the specified format.
func PrintProjects(projects []client.Project, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(projects)
	case FormatYAML:
		return printYAML(projects)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Title", "Owner", "API Key"})
		for _, p := range projects {
			table.Append([]string{p.ID, p.Title, p.Owner, p.APIKey})
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// PrintExperiments outputs experiments in the specified format.
func PrintExperiments(experiments []client.Experiment, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(experiments)
	case FormatYAML:
		return printYAML(experiments)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Key", "Name", "Status", "Kind"})
		for _, e := range experiments {
			table.Append([]string{e.ID, e.Key, e.Name, e.Status, e.Kind})
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// PrintVariants outputs variants in the specified format.
func PrintVariants(variants []client.Variant, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(variants)
	case FormatYAML:
		return printYAML(variants)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Key", "Rollout"})
		for _, v := range variants {
			table.Append([]string{v.ID, v.Key, strconv.FormatFloat(v.Rollout, 'f', -1, 64)})
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// PrintStats outputs a stats/recalculate result.
func PrintStats(res *client.StatsResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(res)
	case FormatYAML:
		return printYAML(res)
	case FormatTable:
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Variant", "Share %"})
		for key, pct := range res.Stats {
			table.Append([]string{key, strconv.FormatFloat(pct, 'f', 2, 64)})
		}
		table.Render()
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func printJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printYAML(data any) error {
	out, err := yaml.Marshal(data)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
