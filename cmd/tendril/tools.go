package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/registry"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		agent, cleanup, err := buildAgent(cmd.Context(), cfg, logger, domain.LifecycleHooks{})
		if err != nil {
			return err
		}
		defer cleanup()

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(agent.Registry.Catalogue())
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tPARAMETERS\tDESCRIPTION")
		for _, name := range agent.Registry.Names() {
			tool, _ := agent.Registry.Lookup(name)
			fmt.Fprintf(w, "%s\t%s\t%s\n", tool.Name, params(tool), tool.Description)
		}
		return w.Flush()
	},
}

func params(tool registry.Tool) string {
	parts := make([]string, 0, len(tool.Params))
	for _, p := range tool.Params {
		part := p.Name + ":" + p.Type.Name()
		if p.Optional {
			part += "?"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().Bool("json", false, "Print the catalogue as JSON")
}
