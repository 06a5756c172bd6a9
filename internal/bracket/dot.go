package bracket

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// DOT serialises the current bracket as a Graphviz digraph: solid edges for
// winner feeders, dotted for loser feeders, and every node declared with a
// label so all edge endpoints are defined.
func (e *Engine) DOT() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b strings.Builder
	b.WriteString("digraph bracket {\n")
	b.WriteString("  rankdir=LR\n")
	for _, node := range e.nodes {
		for _, f := range node.Feeders {
			fmt.Fprintf(&b, "  n%d -> n%d [style=solid];\n", f, node.ID)
		}
		for _, f := range node.InvertedFeeders {
			fmt.Fprintf(&b, "  n%d -> n%d [style=dotted];\n", f, node.ID)
		}
		fmt.Fprintf(&b, "  n%d [label=\"%s\"];\n", node.ID, e.nodeLabel(node))
	}
	b.WriteString("}\n")
	return b.String()
}

// nodeLabel renders "L vs R", score counts once games exist, and a
// representative winning game's log url once the node is decided.
func (e *Engine) nodeLabel(node *Node) string {
	names := make([]string, 0, 2)
	for _, entrant := range node.Entrants {
		names = append(names, entrant.Label())
	}
	for len(names) < 2 {
		names = append(names, "-")
	}

	label := fmt.Sprintf("%s vs %s", names[0], names[1])
	if len(node.Games) > 0 && len(node.Entrants) == 2 {
		leftWins, rightWins := 0, 0
		for _, g := range node.Games {
			if !g.WinnerID.Valid {
				continue
			}
			switch int(g.WinnerID.Int64) {
			case node.Entrants[0].Key():
				leftWins++
			case node.Entrants[1].Key():
				rightWins++
			}
		}
		label = fmt.Sprintf("%s(%d/%d) vs %s(%d/%d)",
			names[0], leftWins, e.opts.BestOf, names[1], rightWins, e.opts.BestOf)
		if node.Winner != nil {
			for _, g := range node.Games {
				if g.WinnerID.Valid && int(g.WinnerID.Int64) == node.Winner.Key() && g.LogURL.Valid {
					label += `\n` + g.LogURL.String
					break
				}
			}
		}
	}
	return label
}

// PrintAndSaveDOT prints the bracket graph and writes it to outputFile.
// Called on completion and on interrupt; a write failure is warned so the
// printed copy still survives.
func (e *Engine) PrintAndSaveDOT(outputFile string) {
	s := e.DOT()
	fmt.Print(s)
	log.Printf("[BRACKET] writing dot file to %s", outputFile)
	if err := os.WriteFile(outputFile, []byte(s), 0o644); err != nil {
		log.Printf("[BRACKET] warning: write %s: %v", outputFile, err)
	}
}
