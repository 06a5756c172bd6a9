package arena

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/siggame/gorena/internal/models"
)

type fakePreparer struct {
	prepared []int
	failID   int // Prepare fails for this submission id
}

func (f *fakePreparer) Prepare(ctx context.Context, sub models.SubmissionInfo) error {
	if sub.ID == f.failID {
		return errors.New("prebuild failed")
	}
	f.prepared = append(f.prepared, sub.ID)
	return nil
}

type fakePlayer struct {
	played []int
	hook   func(ctx context.Context, gameID int) error
}

func (f *fakePlayer) RunMatch(ctx context.Context, gameID int, pair [2]models.SubmissionInfo) error {
	f.played = append(f.played, gameID)
	if f.hook != nil {
		return f.hook(ctx, gameID)
	}
	return nil
}

func newTestRunner(repo Repo, prep Preparer, player MatchPlayer, runForever bool) *Runner {
	return NewRunner(repo, prep, player, nil, time.Hour, runForever, rand.New(rand.NewSource(1)))
}

func TestRunnerPlaysOneMatchAndExits(t *testing.T) {
	repo := newFakeRepo()
	repo.latest = subs(1, 2)
	prep := &fakePreparer{}
	player := &fakePlayer{}
	r := newTestRunner(repo, prep, player, false)

	r.Run(context.Background())

	if len(player.played) != 1 {
		t.Fatalf("played %d matches, want 1", len(player.played))
	}
	if len(prep.prepared) != 2 {
		t.Errorf("prepared %d submissions, want 2", len(prep.prepared))
	}
}

func TestRunnerStopsAfterCurrentGame(t *testing.T) {
	repo := newFakeRepo()
	repo.latest = subs(1, 2, 3)
	prep := &fakePreparer{}
	player := &fakePlayer{}
	r := newTestRunner(repo, prep, player, true)
	player.hook = func(ctx context.Context, gameID int) error {
		if len(player.played) == 3 {
			r.RequestStop()
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after RequestStop")
	}
	if len(player.played) != 3 {
		t.Errorf("played %d matches, want 3", len(player.played))
	}
}

func TestPlayOnceMarksGameFailedOnMatchError(t *testing.T) {
	repo := newFakeRepo()
	repo.latest = subs(1, 2)
	player := &fakePlayer{hook: func(ctx context.Context, gameID int) error {
		return errors.New("gameserver exploded")
	}}
	r := newTestRunner(repo, &fakePreparer{}, player, false)

	if err := r.playOnce(context.Background()); err == nil {
		t.Fatal("expected playOnce to surface the match error")
	}
	if len(repo.failed) != 1 {
		t.Fatalf("failed %d games, want 1", len(repo.failed))
	}
	for _, reason := range repo.failed {
		if reason != "Arena failed to run game" {
			t.Errorf("fail reason = %q", reason)
		}
	}
}

func TestPlayOnceMarksGameCancelledOnShutdown(t *testing.T) {
	repo := newFakeRepo()
	repo.latest = subs(1, 2)
	ctx, cancel := context.WithCancel(context.Background())
	player := &fakePlayer{hook: func(ctx context.Context, gameID int) error {
		cancel()
		return ctx.Err()
	}}
	r := newTestRunner(repo, &fakePreparer{}, player, false)

	if err := r.playOnce(ctx); err == nil {
		t.Fatal("expected playOnce to surface the cancellation")
	}
	for _, reason := range repo.failed {
		if reason != "Cancelled by admin" {
			t.Errorf("fail reason = %q, want Cancelled by admin", reason)
		}
	}
}

func TestPlayOnceFailsGameWhenBuildFails(t *testing.T) {
	repo := newFakeRepo()
	repo.latest = subs(1, 2)
	prep := &fakePreparer{failID: 2}
	player := &fakePlayer{}
	r := newTestRunner(repo, prep, player, false)

	if err := r.playOnce(context.Background()); err == nil {
		t.Fatal("expected playOnce to surface the build error")
	}
	if len(player.played) != 0 {
		t.Errorf("match must not run when a build fails")
	}
	if len(repo.failed) != 1 {
		t.Errorf("failed %d games, want 1", len(repo.failed))
	}
}
