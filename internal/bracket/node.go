package bracket

import (
	"fmt"

	"github.com/siggame/gorena/internal/models"
)

// Entrant is one side of a bracket node: either a real submission or the
// BYE placeholder. Tagging instead of a sentinel id keeps BYE out of any
// submission-id comparisons.
type Entrant struct {
	Sub models.SubmissionInfo
	Bye bool
}

func Real(sub models.SubmissionInfo) Entrant {
	return Entrant{Sub: sub}
}

func Bye() Entrant {
	return Entrant{Bye: true}
}

// Key identifies an entrant across nodes. All BYEs share one key, so BYE
// losses accumulate globally exactly like a real contestant's.
func (e Entrant) Key() int {
	if e.Bye {
		return -1
	}
	return e.Sub.ID
}

func (e Entrant) Equal(o Entrant) bool {
	return e.Key() == o.Key()
}

func (e Entrant) Label() string {
	if e.Bye {
		return "BYE_-1"
	}
	return fmt.Sprintf("%s_%d", e.Sub.Name, e.Sub.ID)
}

// none marks an unset child link
const none = -1

// Node is one match slot in the bracket. Nodes live in the engine's arena
// slice; feeders and children are indices into it, never pointers, which
// keeps the graph cycle-safe and gives stable ids for DOT output.
type Node struct {
	ID              int
	Entrants        []Entrant // at most two; recomputed from feeders
	Feeders         []int     // each contributes its winner
	InvertedFeeders []int     // each contributes its loser
	Games           []models.Game

	Winner *Entrant
	Loser  *Entrant

	// Back-links preventing re-emission of the same advancement edge
	WinnerChild int
	LoserChild  int
}

func newNode(id int) *Node {
	return &Node{ID: id, WinnerChild: none, LoserChild: none}
}

// Decided reports whether this node's match outcome is settled. Once true
// it stays true and the winner/loser never change.
func (n *Node) Decided() bool {
	return n.Winner != nil && n.Loser != nil
}

func (n *Node) decide(winner, loser Entrant) {
	n.Winner = &winner
	n.Loser = &loser
}

// hasBye reports whether either side of this node is the BYE placeholder
func (n *Node) hasBye() bool {
	for _, e := range n.Entrants {
		if e.Bye {
			return true
		}
	}
	return false
}
