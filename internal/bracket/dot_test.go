package bracket

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
)

func TestDOTDeclaresEveryEdgeEndpoint(t *testing.T) {
	repo := newFakeBracketRepo(1, 2, 3, 4)
	e := newTestEngine(repo, Options{NElimination: 2, BestOf: 1})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runToCompletion(t, e, repo, lowestIDWins)

	dot := e.DOT()
	if !strings.HasPrefix(dot, "digraph bracket {") {
		t.Fatalf("not a digraph: %q", dot[:40])
	}

	declared := make(map[string]bool)
	for _, m := range regexp.MustCompile(`(n\d+) \[label=`).FindAllStringSubmatch(dot, -1) {
		declared[m[1]] = true
	}
	for _, m := range regexp.MustCompile(`(n\d+) -> (n\d+)`).FindAllStringSubmatch(dot, -1) {
		if !declared[m[1]] || !declared[m[2]] {
			t.Errorf("edge %s -> %s references an undeclared node", m[1], m[2])
		}
	}
	if len(declared) != e.NodeCount() {
		t.Errorf("declared %d nodes, bracket has %d", len(declared), e.NodeCount())
	}
}

func TestDOTEdgeStyles(t *testing.T) {
	repo := newFakeBracketRepo(1, 2)
	e := newTestEngine(repo, Options{NElimination: 2, BestOf: 1})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runToCompletion(t, e, repo, lowestIDWins)

	// Double elimination over two teams: the rematch node is fed by the
	// leaf's winner (solid) and loser (dotted).
	dot := e.DOT()
	if !strings.Contains(dot, "[style=solid]") {
		t.Errorf("expected a solid winner edge:\n%s", dot)
	}
	if !strings.Contains(dot, "[style=dotted]") {
		t.Errorf("expected a dotted loser edge:\n%s", dot)
	}
}

func TestDOTLabelsShowScoresAndGamelog(t *testing.T) {
	repo := newFakeBracketRepo(1, 2)
	e := newTestEngine(repo, Options{NElimination: 1, BestOf: 1})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runToCompletion(t, e, repo, lowestIDWins)

	dot := e.DOT()
	if !strings.Contains(dot, "(1/1)") {
		t.Errorf("decided node should show a score count:\n%s", dot)
	}
	gameID := repo.order[0]
	if !strings.Contains(dot, fmt.Sprintf("log_%d", gameID)) {
		t.Errorf("decided node should carry the winning game's log url:\n%s", dot)
	}
}
