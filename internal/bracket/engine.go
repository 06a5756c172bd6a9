package bracket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/bits"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/siggame/gorena/internal/models"
)

// ErrStarved means the bracket has no pending matches yet no available
// contestant either; the state is surfaced so an operator can inspect it.
var ErrStarved = errors.New("no pending matches and no available players")

// Repo is the repository surface the bracket engine consumes
type Repo interface {
	ListLatestEligibleSubmissions(ctx context.Context) ([]models.SubmissionInfo, error)
	GetGames(ctx context.Context, gameIDs []int) ([]models.Game, error)
	CreateQueuedGame(ctx context.Context, leftID, rightID int) (int, error)
	FindReusableFinishedGame(ctx context.Context, leftID, rightID int, excludedIDs []int) (*models.Game, error)
}

// Options control the bracket shape
type Options struct {
	NElimination  int  // losses to elimination
	BestOf        int  // games per node; winner needs > BestOf/2
	ReuseOldGames bool // attach prior finished head-to-heads when possible
}

// Engine grows and advances an N-loss elimination bracket online. It owns
// the node arena; every tick it re-reads game state, propagates decisions,
// grows new nodes from available winners/losers, and enqueues the games the
// match runner will play.
type Engine struct {
	repo Repo
	opts Options
	rng  *rand.Rand

	mu    sync.Mutex
	nodes []*Node
}

func NewEngine(repo Repo, opts Options, rng *rand.Rand) *Engine {
	return &Engine{repo: repo, opts: opts, rng: rng}
}

// Start seeds the bracket from the current eligible submissions
func (e *Engine) Start(ctx context.Context) error {
	subs, err := e.repo.ListLatestEligibleSubmissions(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return errors.New("no eligible submissions to build a bracket from")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes = e.generateInitialPairing(subs)
	log.Printf("[BRACKET] seeded bracket with %d submissions across %d leaf nodes", len(subs), len(e.nodes))
	return nil
}

// generateInitialPairing shuffles the field, pads with BYEs up to a power
// of two, and deals the first and second halves across the leaves.
func (e *Engine) generateInitialPairing(subs []models.SubmissionInfo) []*Node {
	width := 1
	if len(subs) > 1 {
		width = 1 << (ceilLog2(len(subs)) - 1)
	}

	entrants := make([]Entrant, 0, 2*width)
	for _, s := range subs {
		entrants = append(entrants, Real(s))
	}
	e.rng.Shuffle(len(entrants), func(i, j int) {
		entrants[i], entrants[j] = entrants[j], entrants[i]
	})
	for len(entrants) < 2*width {
		entrants = append(entrants, Bye())
	}

	nodes := make([]*Node, width)
	for i := range nodes {
		nodes[i] = newNode(i)
	}
	// Two-pass deal: leaf i gets shuffled positions i and width+i
	for i, node := range nodes {
		node.Entrants = append(node.Entrants, entrants[i])
	}
	for i, node := range nodes {
		node.Entrants = append(node.Entrants, entrants[width+i])
	}
	return nodes
}

func ceilLog2(n int) int {
	return bits.Len(uint(n - 1))
}

// Run ticks the engine every refresh interval until the tournament
// completes or the context is cancelled. Returns the champion node.
func (e *Engine) Run(ctx context.Context, refresh time.Duration) (*Node, error) {
	for {
		winner, err := e.Tick(ctx)
		if err != nil {
			return nil, err
		}
		if winner != nil {
			log.Printf("[BRACKET] tournament complete, winner is %s", winner.Winner.Label())
			return winner, nil
		}
		select {
		case <-time.After(refresh):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Tick runs one engine cycle. Returns the champion node once the
// tournament is complete, nil otherwise.
func (e *Engine) Tick(ctx context.Context) (*Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.refreshGameStatuses(ctx); err != nil {
		return nil, err
	}

	log.Printf("[BRACKET] declaring and propagating winners")
	for _, node := range e.nodes {
		e.declareWinners(node.ID)
	}

	winner, complete := e.grow()
	if complete {
		return winner, nil
	}

	return nil, e.createNeededGames(ctx)
}

// refreshGameStatuses re-fetches every attached game that has not finished
// and overwrites it in place.
func (e *Engine) refreshGameStatuses(ctx context.Context) error {
	var ids []int
	for _, node := range e.nodes {
		for _, g := range node.Games {
			if g.Status != models.GameFinished {
				ids = append(ids, g.ID)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	log.Printf("[BRACKET] refreshing status for %d games", len(ids))
	games, err := e.repo.GetGames(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[int]models.Game, len(games))
	for _, g := range games {
		byID[g.ID] = g
	}
	for _, node := range e.nodes {
		for i, g := range node.Games {
			if fresh, ok := byID[g.ID]; ok {
				node.Games[i] = fresh
			}
		}
	}
	return nil
}

// declareWinners walks a node's winner-feeder chain post-order, recomputes
// its entrants from feeder decisions, and settles the node if it can.
// Loser-bracket chains are only walked as roots on later ticks; the engine
// relies on repeated ticks to converge, and decisions are monotone so the
// delay never changes an outcome.
func (e *Engine) declareWinners(id int) {
	node := e.nodes[id]
	if node.Decided() {
		return
	}
	for _, f := range node.Feeders {
		e.declareWinners(f)
	}
	e.propagate(node)

	if len(node.Entrants) != 2 {
		return
	}
	left, right := node.Entrants[0], node.Entrants[1]

	switch {
	case left.Bye && right.Bye:
		node.decide(Bye(), Bye())
		return
	case left.Bye:
		node.decide(right, Bye())
		return
	case right.Bye:
		node.decide(left, Bye())
		return
	}

	// Playing yourself: possible when both a winner and a loser path carry
	// the same submission; decided arbitrarily, never scheduled.
	if left.Equal(right) {
		node.decide(left, right)
		return
	}

	wins := make(map[int]int)
	for _, g := range node.Games {
		if g.WinnerID.Valid {
			wins[int(g.WinnerID.Int64)]++
		}
	}
	for winnerID, count := range wins {
		if count <= e.opts.BestOf/2 {
			continue
		}
		switch winnerID {
		case left.Sub.ID:
			node.decide(left, right)
		case right.Sub.ID:
			node.decide(right, left)
		default:
			log.Printf("[BRACKET] error: winner %d is not a member of node %d (%s vs %s)",
				winnerID, node.ID, left.Label(), right.Label())
		}
		return
	}
}

// propagate recomputes a node's entrants from its feeder edges. Leaves keep
// their seeded entrants.
func (e *Engine) propagate(node *Node) {
	if len(node.Feeders) == 0 && len(node.InvertedFeeders) == 0 {
		return
	}
	node.Entrants = node.Entrants[:0]
	for _, f := range node.Feeders {
		if feeder := e.nodes[f]; feeder.Winner != nil {
			node.Entrants = append(node.Entrants, *feeder.Winner)
		}
	}
	for _, f := range node.InvertedFeeders {
		if feeder := e.nodes[f]; feeder.Loser != nil {
			node.Entrants = append(node.Entrants, *feeder.Loser)
		}
	}
}

// endpoint is a decided node together with the entrant it can still send
// somewhere: its winner (no winner_child yet) or its not-yet-eliminated
// loser (no loser_child yet).
type endpoint struct {
	node *Node
	who  Entrant
}

// grow extends the bracket with new nodes pairing available endpoints.
// Returns (champion, true) when the tournament is over.
func (e *Engine) grow() (*Node, bool) {
	wins := make(map[int]int)
	losses := make(map[int]int)
	for _, node := range e.nodes {
		if node.Winner != nil {
			wins[node.Winner.Key()]++
		}
		if node.Loser != nil {
			losses[node.Loser.Key()]++
		}
	}

	var available []endpoint
	pending := false
	for _, node := range e.nodes {
		if node.Winner != nil && node.WinnerChild == none {
			available = append(available, endpoint{node: node, who: *node.Winner})
		}
		if node.Loser != nil && node.LoserChild == none && losses[node.Loser.Key()] < e.opts.NElimination {
			available = append(available, endpoint{node: node, who: *node.Loser})
		}
		if node.Winner == nil {
			pending = true
		}
	}

	if !pending && len(available) == 1 {
		return available[0].node, true
	}
	if !pending && len(available) == 0 {
		log.Printf("[BRACKET] error: %v", ErrStarved)
		return e.nodes[len(e.nodes)-1], true
	}

	// Pair within strict (losses, wins) classes first so teams progress at
	// an even rate; relax to losses-only, then to one class sorted by
	// descending losses. Stop at the first grouping that produced nodes.
	byScore := groupBy(available, func(p endpoint) [2]int {
		return [2]int{losses[p.who.Key()], wins[p.who.Key()]}
	})
	byLosses := groupBy(available, func(p endpoint) [2]int {
		return [2]int{losses[p.who.Key()], 0}
	})
	all := append([]endpoint(nil), available...)
	sort.SliceStable(all, func(i, j int) bool {
		return losses[all[i].who.Key()] > losses[all[j].who.Key()]
	})

	for _, group := range [][][]endpoint{byScore, byLosses, {all}} {
		created := false
		for _, class := range group {
			for i := 0; i+1 < len(class); i += 2 {
				e.addNode(class[i], class[i+1])
				created = true
			}
		}
		if created {
			break
		}
	}
	return nil, false
}

// groupBy buckets endpoints by key, returning classes in sorted key order
// so growth is deterministic for a given seed.
func groupBy(points []endpoint, key func(endpoint) [2]int) [][]endpoint {
	buckets := make(map[[2]int][]endpoint)
	var keys [][2]int
	for _, p := range points {
		k := key(p)
		if _, seen := buckets[k]; !seen {
			keys = append(keys, k)
		}
		buckets[k] = append(buckets[k], p)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	classes := make([][]endpoint, 0, len(keys))
	for _, k := range keys {
		classes = append(classes, buckets[k])
	}
	return classes
}

// addNode creates a new node fed by two endpoints and wires the
// winner_child/loser_child back-links so neither endpoint is re-emitted.
func (e *Engine) addNode(a, b endpoint) *Node {
	node := newNode(len(e.nodes))
	for _, p := range []endpoint{a, b} {
		switch {
		case p.node.Winner != nil && p.who.Equal(*p.node.Winner) && p.node.WinnerChild == none:
			node.Feeders = append(node.Feeders, p.node.ID)
			p.node.WinnerChild = node.ID
		case p.node.Loser != nil && p.who.Equal(*p.node.Loser) && p.node.LoserChild == none:
			node.InvertedFeeders = append(node.InvertedFeeders, p.node.ID)
			p.node.LoserChild = node.ID
		default:
			log.Printf("[BRACKET] error: endpoint %s is neither free winner nor free loser of node %d",
				p.who.Label(), p.node.ID)
		}
	}
	e.nodes = append(e.nodes, node)
	return node
}

// createNeededGames tops every undecided two-sided node up to BestOf
// attached games, alternating the side order to mitigate first-move
// advantage and reusing prior finished head-to-heads when allowed.
func (e *Engine) createNeededGames(ctx context.Context) error {
	for _, node := range e.nodes {
		if node.Decided() || len(node.Entrants) != 2 || node.hasBye() {
			continue
		}
		active := 0
		for _, g := range node.Games {
			switch g.Status {
			case models.GameFinished, models.GameQueued, models.GamePlaying:
				active++
			}
		}
		for i := active; i < e.opts.BestOf; i++ {
			left, right := node.Entrants[0].Sub, node.Entrants[1].Sub
			if i%2 == 1 {
				left, right = right, left
			}
			game, err := e.createOrReuseGame(ctx, left, right)
			if err != nil {
				return err
			}
			node.Games = append(node.Games, game)
		}
	}
	return nil
}

func (e *Engine) createOrReuseGame(ctx context.Context, left, right models.SubmissionInfo) (models.Game, error) {
	if e.opts.ReuseOldGames {
		used := e.attachedGameIDs()
		game, err := e.repo.FindReusableFinishedGame(ctx, left.ID, right.ID, used)
		if err != nil {
			return models.Game{}, err
		}
		if game != nil {
			log.Printf("[BRACKET] re-used old match %d for %s(%d) vs %s(%d)",
				game.ID, left.Name, left.ID, right.Name, right.ID)
			return *game, nil
		}
	}
	log.Printf("[BRACKET] enqueueing match for %s(%d) vs %s(%d)", left.Name, left.ID, right.Name, right.ID)
	gameID, err := e.repo.CreateQueuedGame(ctx, left.ID, right.ID)
	if err != nil {
		return models.Game{}, err
	}
	return models.Game{ID: gameID, Status: models.GameQueued}, nil
}

func (e *Engine) attachedGameIDs() []int {
	var ids []int
	for _, node := range e.nodes {
		for _, g := range node.Games {
			ids = append(ids, g.ID)
		}
	}
	return ids
}

// NodeCount reports the current bracket size (for the status server)
func (e *Engine) NodeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.nodes)
}

// nodeByID is a test hook; callers must hold no reference across ticks
func (e *Engine) nodeByID(id int) (*Node, error) {
	if id < 0 || id >= len(e.nodes) {
		return nil, fmt.Errorf("no node %d", id)
	}
	return e.nodes[id], nil
}
