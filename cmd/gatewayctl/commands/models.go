package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xalo2100/alfatechflow-sub001/internal/domain"
)

func newModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Print the candidates an invocation would try, in order",
		RunE:  runModels,
	}
	cmd.Flags().StringP("provider", "p", string(domain.ProviderCloud), "provider kind (cloud, local)")
	cmd.Flags().StringP("model", "m", "", "plan for a pinned model")
	cmd.Flags().StringP("output", "o", "text", "output format (text, json)")
	return cmd
}

func runModels(cmd *cobra.Command, _ []string) error {
	provider, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	output, _ := cmd.Flags().GetString("output")

	kind, err := domain.ParseProviderKind(provider)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	rt, err := buildRuntime(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	candidates, err := rt.Gateway.Plan(ctx, kind, model)
	if err != nil {
		return err
	}

	if output == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tVERSION\tMODEL\tORIGIN")
	for i, c := range candidates {
		version := c.APIVersion
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, version, c.ModelName, c.Origin)
	}
	return tw.Flush()
}
