package main

import (
	"fmt"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/spf13/cobra"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the execution graph visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) of the agent's nodes and prioritized edges.`,
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

		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(agent.Graph(), nil))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
