package arena

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/siggame/gorena/internal/models"
)

// ErrNotEnoughSubmissions means fewer than two eligible submissions exist
var ErrNotEnoughSubmissions = errors.New("not enough submissions")

// ErrNoNonRecentPair means every sampled pair played within the lookback window
var ErrNoNonRecentPair = errors.New("unable to generate non-recent pairing")

const pairingTries = 200

// Repo is the repository surface the match runner consumes
type Repo interface {
	ListLatestEligibleSubmissions(ctx context.Context) ([]models.SubmissionInfo, error)
	ListAllSubmissions(ctx context.Context) ([]models.SubmissionInfo, error)
	ListRecentGames(ctx context.Context, lookback time.Duration) ([]models.RecentGame, error)
	ClaimQueuedGame(ctx context.Context) (int, []int, error)
	CreatePlayingGame(ctx context.Context, leftID, rightID int) (int, error)
	SetGameFinished(ctx context.Context, gameID int, winReason, loseReason string, winnerID int, logURL string) error
	SetGameFailed(ctx context.Context, gameID int, reason string) error
	SetGameSubmissionOutput(ctx context.Context, gameID, submissionID int, outputURL string) error
}

// Match is a selected piece of work: a game row already in the playing
// state and the two submissions on it.
type Match struct {
	GameID  int
	Pair    [2]models.SubmissionInfo
	Claimed bool // true when taken from the queue rather than generated
}

// SelectMatch picks the next match: a queued game claimed atomically if one
// exists, otherwise a freshly generated non-recent pairing inserted as
// playing.
func SelectMatch(ctx context.Context, repo Repo, lookback time.Duration, rng *rand.Rand) (Match, error) {
	all, err := repo.ListAllSubmissions(ctx)
	if err != nil {
		return Match{}, err
	}

	gameID, subIDs, err := repo.ClaimQueuedGame(ctx)
	if err != nil {
		return Match{}, err
	}
	if gameID != 0 {
		log.Printf("[PAIRING] claimed queued game %d", gameID)
		pair, err := hydratePair(all, subIDs)
		if err != nil {
			return Match{}, fmt.Errorf("claimed game %d: %w", gameID, err)
		}
		return Match{GameID: gameID, Pair: pair, Claimed: true}, nil
	}

	latest, err := repo.ListLatestEligibleSubmissions(ctx)
	if err != nil {
		return Match{}, err
	}
	recent, err := repo.ListRecentGames(ctx, lookback)
	if err != nil {
		return Match{}, err
	}

	pair, err := generateNonRecentPairing(latest, recent, rng)
	if err != nil {
		return Match{}, err
	}

	gameID, err = repo.CreatePlayingGame(ctx, pair[0].ID, pair[1].ID)
	if err != nil {
		return Match{}, err
	}
	log.Printf("[PAIRING] inserted new game %d: %s(%d) v %s(%d)",
		gameID, pair[0].Name, pair[0].ID, pair[1].Name, pair[1].ID)
	return Match{GameID: gameID, Pair: pair}, nil
}

func hydratePair(all []models.SubmissionInfo, subIDs []int) ([2]models.SubmissionInfo, error) {
	var pair [2]models.SubmissionInfo
	if len(subIDs) != 2 {
		return pair, fmt.Errorf("expected 2 submissions, got %d", len(subIDs))
	}
	byID := make(map[int]models.SubmissionInfo, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}
	for i, id := range subIDs {
		sub, ok := byID[id]
		if !ok {
			return pair, fmt.Errorf("submission %d not found", id)
		}
		pair[i] = sub
	}
	return pair, nil
}

// generateNonRecentPairing samples random distinct pairs until one is found
// whose unordered form did not play within the lookback window. Queued games
// do not count as recent: they were scheduled deliberately.
func generateNonRecentPairing(subs []models.SubmissionInfo, recent []models.RecentGame, rng *rand.Rand) ([2]models.SubmissionInfo, error) {
	recentPairs := make(map[[2]int]bool, len(recent))
	for _, g := range recent {
		if g.Status == models.GameQueued {
			continue
		}
		ids, err := g.PairIDs()
		if err != nil {
			log.Printf("[PAIRING] skipping malformed recent game %d: %v", g.ID, err)
			continue
		}
		recentPairs[sortedPair(ids[0], ids[1])] = true
	}

	pair, err := generatePairing(subs, rng)
	if err != nil {
		return [2]models.SubmissionInfo{}, err
	}
	for tries := pairingTries; recentPairs[sortedPair(pair[0].ID, pair[1].ID)]; tries-- {
		if tries <= 0 {
			return [2]models.SubmissionInfo{}, ErrNoNonRecentPair
		}
		if pair, err = generatePairing(subs, rng); err != nil {
			return [2]models.SubmissionInfo{}, err
		}
	}
	return pair, nil
}

func generatePairing(subs []models.SubmissionInfo, rng *rand.Rand) ([2]models.SubmissionInfo, error) {
	var pair [2]models.SubmissionInfo
	if len(subs) < 2 {
		return pair, fmt.Errorf("%w: %d", ErrNotEnoughSubmissions, len(subs))
	}
	a := rng.Intn(len(subs))
	b := rng.Intn(len(subs))
	for b == a {
		b = rng.Intn(len(subs))
	}
	if subs[a].ID > subs[b].ID {
		a, b = b, a
	}
	pair[0], pair[1] = subs[a], subs[b]
	return pair, nil
}

func sortedPair(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}
