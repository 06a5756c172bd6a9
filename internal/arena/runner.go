package arena

import (
	"context"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/siggame/gorena/internal/events"
	"github.com/siggame/gorena/internal/models"
)

// Preparer materialises a submission into a runnable image
type Preparer interface {
	Prepare(ctx context.Context, sub models.SubmissionInfo) error
}

// MatchPlayer runs one match end to end
type MatchPlayer interface {
	RunMatch(ctx context.Context, gameID int, pair [2]models.SubmissionInfo) error
}

// Runner is the outer match loop: select a pair, build both sides, play the
// match, and keep going. One game is in flight per process; cross-process
// exclusion lives entirely in the queued-game claim.
type Runner struct {
	repo       Repo
	builder    Preparer
	supervisor MatchPlayer
	events     *events.Publisher
	lookback   time.Duration
	runForever bool
	rng        *rand.Rand

	keepRunning atomic.Bool
}

func NewRunner(repo Repo, builder Preparer, supervisor MatchPlayer, pub *events.Publisher, lookback time.Duration, runForever bool, rng *rand.Rand) *Runner {
	r := &Runner{
		repo:       repo,
		builder:    builder,
		supervisor: supervisor,
		events:     pub,
		lookback:   lookback,
		runForever: runForever,
		rng:        rng,
	}
	r.keepRunning.Store(true)
	return r
}

// RequestStop asks the loop to exit after the current game completes. Used
// by the first interrupt; the second cancels the context instead.
func (r *Runner) RequestStop() {
	r.keepRunning.Store(false)
}

// Run executes match iterations until stopped. Errors within an iteration
// are logged and retried after a jittered sleep; they never kill the loop.
func (r *Runner) Run(ctx context.Context) {
	for {
		if err := r.playOnce(ctx); err != nil {
			if ctx.Err() != nil {
				log.Printf("[ARENA] shutting down: %v", err)
				return
			}
			log.Printf("[ARENA] iteration failed: %v", err)
			r.sleepWithJitter(ctx)
		}
		if ctx.Err() != nil || !r.runForever || !r.keepRunning.Load() {
			return
		}
	}
}

func (r *Runner) playOnce(ctx context.Context) error {
	log.Printf("[ARENA] selecting next match")
	match, err := SelectMatch(ctx, r.repo, r.lookback, r.rng)
	if err != nil {
		return err
	}

	log.Printf("[ARENA] playing match %d: %s(%d) v %s(%d)", match.GameID,
		match.Pair[0].Name, match.Pair[0].ID, match.Pair[1].Name, match.Pair[1].ID)
	r.events.Publish(ctx, "game_claimed", map[string]interface{}{
		"game_id": match.GameID,
		"claimed": match.Claimed,
		"left":    match.Pair[0].ID,
		"right":   match.Pair[1].ID,
	})

	if err := r.runMatch(ctx, match); err != nil {
		reason := "Arena failed to run game"
		if ctx.Err() != nil {
			reason = "Cancelled by admin"
		}
		log.Printf("[ARENA] failing in-progress match %d: %s", match.GameID, reason)
		// The match context may already be cancelled; the row write must
		// still go through.
		failCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if ferr := r.repo.SetGameFailed(failCtx, match.GameID, reason); ferr != nil {
			log.Printf("[ARENA] could not mark game %d failed: %v", match.GameID, ferr)
		}
		r.events.Publish(failCtx, "game_failed", map[string]interface{}{
			"game_id": match.GameID,
			"reason":  reason,
		})
		return err
	}

	r.events.Publish(ctx, "game_finished", map[string]interface{}{
		"game_id": match.GameID,
	})
	return nil
}

func (r *Runner) runMatch(ctx context.Context, match Match) error {
	for _, sub := range match.Pair {
		if err := r.builder.Prepare(ctx, sub); err != nil {
			r.events.Publish(ctx, "submission_failed", map[string]interface{}{
				"submission_id": sub.ID,
				"error":         err.Error(),
			})
			return err
		}
		r.events.Publish(ctx, "submission_built", map[string]interface{}{
			"submission_id": sub.ID,
		})
	}

	r.events.Publish(ctx, "game_started", map[string]interface{}{
		"game_id": match.GameID,
	})
	return r.supervisor.RunMatch(ctx, match.GameID, match.Pair)
}

// sleepWithJitter pauses 15-20s between failed iterations so a persistent
// fault does not hammer the database or game server.
func (r *Runner) sleepWithJitter(ctx context.Context) {
	delay := time.Duration(15+r.rng.Intn(5)+1) * time.Second
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
