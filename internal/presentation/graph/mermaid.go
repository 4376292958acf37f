package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/tendril/pkg/domain"
)

// Topology is the read-only view of an agent graph. *runtime.Graph implements it.
type Topology interface {
	Start() domain.NodeID
	Finish() domain.NodeID
	Nodes() []domain.NodeID
	Edges(id domain.NodeID) []domain.Edge
}

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	VisitedNodes []domain.NodeID
	CurrentNode  domain.NodeID
}

// GenerateMermaid produces a Mermaid flowchart syntax string for the graph.
// It applies semantic styling:
// - Start/Finish: ((Circle))
// - Tool execution: [[Subroutine]]
// - Default: [Rectangle]
// Edges are labelled with their name and, when a node has several exits, the
// priority they are evaluated in.
func GenerateMermaid(g Topology, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, id := range g.Nodes() {
		safeID := sanitizeMermaidID(string(id))

		opener, closer := "[", "]"
		switch {
		case id == g.Start() || id == g.Finish():
			opener, closer = "((", "))"
		case id == domain.NodeToolExecution:
			opener, closer = "[[", "]]"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, id, closer))

		edges := g.Edges(id)
		for _, e := range edges {
			safeTo := sanitizeMermaidID(string(e.To))

			text := strings.ReplaceAll(e.Name, "\"", "'")
			if len(edges) > 1 {
				text = strings.TrimSpace(fmt.Sprintf("%d. %s", e.Priority, text))
			}

			arrow := "-->"
			if e.Guard != nil {
				arrow = "-.->"
			}
			if text != "" {
				arrow = fmt.Sprintf("-- \"%s\" -->", text)
				if e.Guard != nil {
					arrow = fmt.Sprintf("-. \"%s\" .->", text)
				}
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", safeID, arrow, safeTo))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		visitedSet := make(map[string]bool)
		for _, id := range overlay.VisitedNodes {
			safeID := sanitizeMermaidID(string(id))
			if !visitedSet[safeID] && safeID != "" {
				visitedSet[safeID] = true
				sb.WriteString(fmt.Sprintf("    class %s visited;\n", safeID))
			}
		}

		if overlay.CurrentNode != "" {
			sb.WriteString(fmt.Sprintf("    class %s current;\n", sanitizeMermaidID(string(overlay.CurrentNode))))
		}
	}

	return sb.String()
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
