package arena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/siggame/gorena/internal/dockerengine"
	"github.com/siggame/gorena/internal/gameserver"
	"github.com/siggame/gorena/internal/models"
)

type fakeServer struct {
	rooms    []string
	statuses []*gameserver.MatchStatus
	calls    int
}

func (f *fakeServer) CreateRoom(ctx context.Context, gameName, session, password string, playerNames [2]string) error {
	f.rooms = append(f.rooms, session)
	return nil
}

func (f *fakeServer) GetMatchStatus(ctx context.Context, gameName, session string) (*gameserver.MatchStatus, error) {
	i := f.calls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.calls++
	return f.statuses[i], nil
}

func (f *fakeServer) DownloadGamelog(ctx context.Context, gamelogFilename, localPath string) error {
	return os.WriteFile(localPath, []byte("{}"), 0o644)
}

type fakeEngine struct {
	mu      sync.Mutex
	started []string
	stopped []string
	removed []string
	exits   map[string]chan error

	// When set, FollowLogs delivers this payload after logDelay, modelling
	// the daemon flushing the stream tail after the container is gone.
	logPayload string
	logDelay   time.Duration
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{exits: make(map[string]chan error)}
}

func (f *fakeEngine) RunDetached(ctx context.Context, spec dockerengine.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "ctr_" + spec.Name
	f.started = append(f.started, id)
	f.exits[id] = make(chan error, 1)
	return id, nil
}

func (f *fakeEngine) FollowLogs(ctx context.Context, containerID string, w io.Writer) error {
	if f.logPayload == "" {
		return nil
	}
	time.Sleep(f.logDelay)
	_, err := io.WriteString(w, f.logPayload)
	return err
}

func (f *fakeEngine) WaitDone(ctx context.Context, containerID string) <-chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exits[containerID]
}

func (f *fakeEngine) Stop(ctx context.Context, containerID string, graceSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, containerID)
	return nil
}

func (f *fakeEngine) Remove(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

// exitFirstStarted completes the first started container once it exists.
func (f *fakeEngine) exitFirstStarted() {
	for {
		f.mu.Lock()
		if len(f.started) > 0 {
			f.exits[f.started[0]] <- nil
			f.mu.Unlock()
			return
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

type fakeUploader struct {
	uploads  []string
	contents map[string]string // remoteName -> file content at upload time
}

func (f *fakeUploader) UploadFile(localPath, remoteName string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	if f.contents == nil {
		f.contents = make(map[string]string)
	}
	f.uploads = append(f.uploads, remoteName)
	f.contents[remoteName] = string(data)
	return "http://files.test/" + remoteName, nil
}

func newTestSupervisor(t *testing.T, server GameServer, engine ContainerEngine, upload Uploader, repo Repo) *Supervisor {
	t.Helper()
	cfg := SupervisorConfig{
		GameName:       "Chess",
		ServerHost:     "localhost",
		ServerTCPPort:  "3000",
		ContainerCPU:   "0.5",
		ContainerRAM:   "256m",
		MatchTimeout:   2 * time.Second,
		GamelogRetries: 3,
		LogfilePath:    t.TempDir(),
	}
	return NewSupervisor(cfg, server, engine, upload, repo, rand.New(rand.NewSource(1)))
}

func overStatus(winner, loser string) *gameserver.MatchStatus {
	return &gameserver.MatchStatus{
		Status:          "over",
		GamelogFilename: "log_1.json.gz",
		Clients: []gameserver.ClientResult{
			{Name: winner, Won: true, Reason: "checkmate"},
			{Name: loser, Lost: true, Reason: "checkmated"},
		},
	}
}

func TestRunMatchHappyPath(t *testing.T) {
	pair := [2]models.SubmissionInfo{
		{ID: 1, Name: "team_1"},
		{ID: 2, Name: "team_2"},
	}
	server := &fakeServer{statuses: []*gameserver.MatchStatus{overStatus("team_2", "team_1")}}
	engine := newFakeEngine()
	repo := newFakeRepo()
	sup := newTestSupervisor(t, server, engine, &fakeUploader{}, repo)

	go engine.exitFirstStarted()

	if err := sup.RunMatch(context.Background(), 10, pair); err != nil {
		t.Fatalf("RunMatch: %v", err)
	}

	if winner := repo.finished[10]; winner != 2 {
		t.Errorf("recorded winner = %d, want 2", winner)
	}
	if len(server.rooms) != 1 || server.rooms[0] != "arena_10_1v2" {
		t.Errorf("rooms = %v, want [arena_10_1v2]", server.rooms)
	}
	if len(engine.removed) != 2 {
		t.Errorf("removed %d containers, want 2", len(engine.removed))
	}
	// Both stdout logs recorded against the game
	if len(repo.outputs) != 2 {
		t.Errorf("recorded %d stdout urls, want 2", len(repo.outputs))
	}
}

func TestRunMatchTimeoutStopsBothClients(t *testing.T) {
	pair := [2]models.SubmissionInfo{
		{ID: 1, Name: "team_1"},
		{ID: 2, Name: "team_2"},
	}
	// Neither client exits and the server never reports results.
	server := &fakeServer{statuses: []*gameserver.MatchStatus{{Status: "running"}}}
	engine := newFakeEngine()
	repo := newFakeRepo()
	sup := newTestSupervisor(t, server, engine, &fakeUploader{}, repo)
	sup.cfg.MatchTimeout = 20 * time.Millisecond
	sup.cfg.GamelogRetries = 1

	err := sup.RunMatch(context.Background(), 11, pair)
	var mfe *MatchFailedError
	if !errors.As(err, &mfe) {
		t.Fatalf("err = %v, want MatchFailedError", err)
	}

	if len(engine.stopped) != 2 {
		t.Errorf("stopped %d containers, want 2", len(engine.stopped))
	}
	if len(engine.removed) != 2 {
		t.Errorf("removed %d containers, want 2", len(engine.removed))
	}
}

func TestRunMatchRemovesContainersExactlyOnce(t *testing.T) {
	// shutdownClients runs on the normal path and again in the defer;
	// the second pass must be a no-op.
	pair := [2]models.SubmissionInfo{
		{ID: 1, Name: "team_1"},
		{ID: 2, Name: "team_2"},
	}
	server := &fakeServer{statuses: []*gameserver.MatchStatus{overStatus("team_1", "team_2")}}
	engine := newFakeEngine()
	sup := newTestSupervisor(t, server, engine, &fakeUploader{}, newFakeRepo())

	go engine.exitFirstStarted()

	if err := sup.RunMatch(context.Background(), 12, pair); err != nil {
		t.Fatalf("RunMatch: %v", err)
	}
	if len(engine.removed) != 2 {
		t.Errorf("Remove called %d times, want 2", len(engine.removed))
	}
}

func TestRunMatchWaitsForLogStreamBeforeUpload(t *testing.T) {
	// The log stream keeps delivering after the container is removed; the
	// uploaded stdout file must still contain the tail.
	pair := [2]models.SubmissionInfo{
		{ID: 1, Name: "team_1"},
		{ID: 2, Name: "team_2"},
	}
	server := &fakeServer{statuses: []*gameserver.MatchStatus{overStatus("team_1", "team_2")}}
	engine := newFakeEngine()
	engine.logPayload = "late stream tail\n"
	engine.logDelay = 100 * time.Millisecond
	upload := &fakeUploader{}
	sup := newTestSupervisor(t, server, engine, upload, newFakeRepo())

	go engine.exitFirstStarted()

	if err := sup.RunMatch(context.Background(), 13, pair); err != nil {
		t.Fatalf("RunMatch: %v", err)
	}
	for _, sub := range pair {
		name := fmt.Sprintf("stdout_stderr_%d_arena_13_1v2", sub.ID)
		content, ok := upload.contents[name]
		if !ok {
			t.Fatalf("stdout for submission %d was not uploaded (have %v)", sub.ID, upload.uploads)
		}
		if content != engine.logPayload {
			t.Errorf("uploaded stdout for submission %d = %q, want %q", sub.ID, content, engine.logPayload)
		}
	}
}

func TestResolveWinnerNoWinner(t *testing.T) {
	status := &gameserver.MatchStatus{
		Status: "over",
		Clients: []gameserver.ClientResult{
			{Name: "team_1", Lost: true, Reason: "disconnected"},
			{Name: "team_2", Lost: true, Reason: "disconnected"},
		},
	}
	pair := [2]models.SubmissionInfo{{ID: 1, Name: "team_1"}, {ID: 2, Name: "team_2"}}
	_, _, _, err := resolveWinner(status, pair)
	var mfe *MatchFailedError
	if !errors.As(err, &mfe) {
		t.Fatalf("err = %v, want MatchFailedError", err)
	}
}

func TestResolveWinnerUnknownName(t *testing.T) {
	status := overStatus("somebody_else", "team_1")
	pair := [2]models.SubmissionInfo{{ID: 1, Name: "team_1"}, {ID: 2, Name: "team_2"}}
	_, _, _, err := resolveWinner(status, pair)
	var mfe *MatchFailedError
	if !errors.As(err, &mfe) {
		t.Fatalf("err = %v, want MatchFailedError", err)
	}
}

func TestGeneratePasswordShape(t *testing.T) {
	sup := newTestSupervisor(t, &fakeServer{}, newFakeEngine(), &fakeUploader{}, newFakeRepo())
	pw := sup.generatePassword()
	if len(pw) != 16 {
		t.Fatalf("password length = %d, want 16", len(pw))
	}
	for _, r := range pw {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			t.Fatalf("password contains non-letter %q", r)
		}
	}
}
