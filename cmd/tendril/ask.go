package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/aretw0/tendril/internal/presentation/graph"
	"github.com/aretw0/tendril/internal/presentation/tui"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/spf13/cobra"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the agent one question in the terminal",
	Long: `Runs a single turn on a fresh conversation. Progress lines go to stderr, the
answer to stdout (rendered as markdown unless --plain). The question is read from
stdin when no arguments are given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		plain, _ := cmd.Flags().GetBool("plain")
		quiet, _ := cmd.Flags().GetBool("quiet")
		showGraph, _ := cmd.Flags().GetBool("graph")

		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64<<10))
			if err != nil {
				return err
			}
			question = strings.TrimSpace(string(data))
		}
		if question == "" {
			return errors.New("no question given")
		}

		trace := &visitTrace{}
		agent, cleanup, err := buildAgent(cmd.Context(), cfg, logger, domain.LifecycleHooks{
			OnNodeEnter: trace.enter,
		})
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		stderr := cmd.ErrOrStderr()
		if !quiet && !plain {
			tui.PrintBanner(stderr)
		}
		answer, err := agent.Ask(ctx, question, func(progress string) {
			if !quiet {
				fmt.Fprintln(stderr, tui.Dim(stderr, progress))
			}
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if plain {
			fmt.Fprintln(out, answer)
		} else {
			rendered, err := tui.NewRenderer(100)(answer)
			if err != nil {
				logger.Debug("markdown rendering failed", "err", err)
			}
			fmt.Fprint(out, rendered)
		}

		if showGraph {
			visited := trace.nodes()
			overlay := &graph.GraphOverlay{VisitedNodes: visited}
			if len(visited) > 0 {
				overlay.CurrentNode = visited[len(visited)-1]
			}
			fmt.Fprint(stderr, graph.GenerateMermaid(agent.Graph(), overlay))
		}
		return nil
	},
}

// visitTrace records the nodes a run entered.
type visitTrace struct {
	mu      sync.Mutex
	visited []domain.NodeID
}

func (v *visitTrace) enter(_ context.Context, e *domain.NodeEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visited = append(v.visited, e.NodeID)
}

func (v *visitTrace) nodes() []domain.NodeID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.NodeID(nil), v.visited...)
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().Bool("plain", false, "Print the answer without markdown rendering")
	askCmd.Flags().BoolP("quiet", "q", false, "Do not print progress lines")
	askCmd.Flags().Bool("graph", false, "Print the execution graph with the visited nodes to stderr")
}
