package arena

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/siggame/gorena/internal/builder"
	"github.com/siggame/gorena/internal/dockerengine"
	"github.com/siggame/gorena/internal/gameserver"
	"github.com/siggame/gorena/internal/models"
)

// Grace given to a straggling client after the match is over before the
// hard kill. The game server may need the survivor to disconnect cleanly
// for the gamelog to flush; anything slower than this forfeits its exit.
const stragglerGraceSeconds = 5

// MatchFailedError is a game-fatal outcome: the match ran but cannot be
// scored. The runner marks the game failed and moves on.
type MatchFailedError struct {
	Reason string
}

func (e *MatchFailedError) Error() string {
	return "match failed: " + e.Reason
}

// GameServer is the game-server surface the supervisor consumes
type GameServer interface {
	CreateRoom(ctx context.Context, gameName, session, password string, playerNames [2]string) error
	GetMatchStatus(ctx context.Context, gameName, session string) (*gameserver.MatchStatus, error)
	DownloadGamelog(ctx context.Context, gamelogFilename, localPath string) error
}

// ContainerEngine is the container surface the supervisor consumes
type ContainerEngine interface {
	RunDetached(ctx context.Context, spec dockerengine.ContainerSpec) (string, error)
	FollowLogs(ctx context.Context, containerID string, w io.Writer) error
	WaitDone(ctx context.Context, containerID string) <-chan error
	Stop(ctx context.Context, containerID string, graceSeconds int) error
	Remove(ctx context.Context, containerID string) error
}

// Uploader pushes a local artifact to the blob store
type Uploader interface {
	UploadFile(localPath, remoteName string) (string, error)
}

// SupervisorConfig carries the per-deployment knobs for running one match
type SupervisorConfig struct {
	GameName       string
	ServerHost     string
	ServerTCPPort  string
	ContainerCPU   string
	ContainerRAM   string
	MatchTimeout   time.Duration
	GamelogRetries int
	LogfilePath    string
}

// Supervisor runs a single match end to end: room setup, two client
// containers, timeout-bounded wait, log harvest, and final game row writes.
type Supervisor struct {
	cfg    SupervisorConfig
	server GameServer
	engine ContainerEngine
	upload Uploader
	repo   Repo
	rng    *rand.Rand
}

func NewSupervisor(cfg SupervisorConfig, server GameServer, engine ContainerEngine, upload Uploader, repo Repo, rng *rand.Rand) *Supervisor {
	return &Supervisor{cfg: cfg, server: server, engine: engine, upload: upload, repo: repo, rng: rng}
}

// SessionName is the room name for a game: arena_<gid>_<idL>v<idR>
func SessionName(gameID int, pair [2]models.SubmissionInfo) string {
	return fmt.Sprintf("arena_%d_%dv%d", gameID, pair[0].ID, pair[1].ID)
}

const passwordLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

func (s *Supervisor) generatePassword() string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = passwordLetters[s.rng.Intn(len(passwordLetters))]
	}
	return string(b)
}

// client tracks one running bot container and its log file
type client struct {
	sub         models.SubmissionInfo
	containerID string
	stdoutPath  string
	stdout      *os.File
	done        <-chan error
	logsDone    <-chan struct{}
	finished    bool
}

// RunMatch plays one game between a prepared pair. On every exit path,
// including errors and panics, both containers are terminated and their log
// files closed before RunMatch returns.
func (s *Supervisor) RunMatch(ctx context.Context, gameID int, pair [2]models.SubmissionInfo) error {
	session := SessionName(gameID, pair)
	password := s.generatePassword()

	log.Printf("[MATCH] setting up room %s", session)
	if err := s.server.CreateRoom(ctx, s.cfg.GameName, session, password, [2]string{pair[0].Name, pair[1].Name}); err != nil {
		return err
	}

	var clients []*client
	defer func() {
		// Safety net: shutdownClients is idempotent
		s.shutdownClients(clients)
	}()

	for i, sub := range pair {
		c, err := s.startClient(ctx, session, password, sub, i)
		if err != nil {
			return err
		}
		clients = append(clients, c)
	}

	log.Printf("[MATCH] waiting for match %s to finish (timeout %s)", session, s.cfg.MatchTimeout)
	s.waitForFirstExit(ctx, clients)
	log.Printf("[MATCH] match %s is over", session)
	s.shutdownClients(clients)

	// Per-side stdout uploads are best-effort; the match result matters more
	for _, c := range clients {
		remoteName := filepath.Base(c.stdoutPath)
		url, err := s.upload.UploadFile(c.stdoutPath, remoteName)
		if err != nil {
			log.Printf("[MATCH] warning: upload stdout for submission %d: %v", c.sub.ID, err)
			continue
		}
		if err := s.repo.SetGameSubmissionOutput(ctx, gameID, c.sub.ID, url); err != nil {
			log.Printf("[MATCH] warning: record stdout url for submission %d: %v", c.sub.ID, err)
		}
	}

	status, err := s.waitForGamelog(ctx, session)
	if err != nil {
		return err
	}

	winnerID, winReason, loseReason, err := resolveWinner(status, pair)
	if err != nil {
		return err
	}

	localGamelog := filepath.Join(s.cfg.LogfilePath, status.GamelogFilename)
	if err := s.server.DownloadGamelog(ctx, status.GamelogFilename, localGamelog); err != nil {
		return err
	}
	gamelogURL, err := s.upload.UploadFile(localGamelog, status.GamelogFilename)
	if err != nil {
		return err
	}

	log.Printf("[MATCH] game %d finished, winner %d (%s)", gameID, winnerID, winReason)
	return s.repo.SetGameFinished(ctx, gameID, winReason, loseReason, winnerID, gamelogURL)
}

func (s *Supervisor) startClient(ctx context.Context, session, password string, sub models.SubmissionInfo, index int) (*client, error) {
	stdoutPath := filepath.Join(s.cfg.LogfilePath, fmt.Sprintf("stdout_stderr_%d_%s", sub.ID, session))
	if err := os.MkdirAll(s.cfg.LogfilePath, 0o755); err != nil {
		return nil, fmt.Errorf("create logfile dir: %w", err)
	}
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("create stdout log %s: %w", stdoutPath, err)
	}

	spec := dockerengine.ContainerSpec{
		Name:  fmt.Sprintf("%d_for_%s", sub.ID, session),
		Image: builder.ImageTag(sub.ID),
		Cmd: []string{
			"--server", s.cfg.ServerHost,
			"--port", s.cfg.ServerTCPPort,
			"--password", password,
			"--name", sub.Name,
			"--session", session,
			"--index", fmt.Sprintf("%d", index),
			s.cfg.GameName,
		},
		CPU:         s.cfg.ContainerCPU,
		RAM:         s.cfg.ContainerRAM,
		HostNetwork: true,
	}

	log.Printf("[MATCH] starting container %s (stdout: %s)", spec.Name, stdoutPath)
	containerID, err := s.engine.RunDetached(ctx, spec)
	if err != nil {
		stdout.Close()
		return nil, err
	}

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		if err := s.engine.FollowLogs(ctx, containerID, stdout); err != nil {
			log.Printf("[MATCH] warning: log stream for %s ended: %v", spec.Name, err)
		}
	}()

	return &client{
		sub:         sub,
		containerID: containerID,
		stdoutPath:  stdoutPath,
		stdout:      stdout,
		done:        s.engine.WaitDone(ctx, containerID),
		logsDone:    logsDone,
	}, nil
}

// waitForFirstExit blocks until one client exits or the match timeout
// elapses. One exit means the match is effectively over; the survivor gets
// its short grace in shutdownClients.
func (s *Supervisor) waitForFirstExit(ctx context.Context, clients []*client) {
	timeout := time.After(s.cfg.MatchTimeout)
	select {
	case <-clients[0].done:
		log.Printf("[MATCH] client %d done", clients[0].sub.ID)
		clients[0].finished = true
	case <-clients[1].done:
		log.Printf("[MATCH] client %d done", clients[1].sub.ID)
		clients[1].finished = true
	case <-timeout:
		log.Printf("[MATCH] match timeout after %s", s.cfg.MatchTimeout)
	case <-ctx.Done():
		log.Printf("[MATCH] match wait cancelled")
	}
}

// shutdownClients terminates whatever is still running and closes log
// files. Idempotent: safe to call from both the normal path and the defer.
func (s *Supervisor) shutdownClients(clients []*client) {
	// Use a fresh context: cleanup must proceed even if the match context
	// is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(stragglerGraceSeconds+25)*time.Second)
	defer cancel()

	for _, c := range clients {
		if c.containerID != "" {
			if !c.finished {
				log.Printf("[MATCH] stopping client %d", c.sub.ID)
				if err := s.engine.Stop(ctx, c.containerID, stragglerGraceSeconds); err != nil {
					log.Printf("[MATCH] warning: stop client %d: %v", c.sub.ID, err)
				}
			}
			if err := s.engine.Remove(ctx, c.containerID); err != nil {
				log.Printf("[MATCH] warning: remove client %d: %v", c.sub.ID, err)
			}
			c.containerID = ""
		}
		// The daemon EOFs the log stream asynchronously after removal; wait
		// for the stream goroutine so the file holds the tail before it is
		// closed and uploaded.
		if c.logsDone != nil {
			select {
			case <-c.logsDone:
			case <-time.After(stragglerGraceSeconds * time.Second):
				log.Printf("[MATCH] warning: log stream for client %d did not drain", c.sub.ID)
			}
			c.logsDone = nil
		}
		if c.stdout != nil {
			c.stdout.Close()
			c.stdout = nil
		}
	}
}

// waitForGamelog polls the match status with a decreasing backoff until the
// game server reports the match over with a gamelog available.
func (s *Supervisor) waitForGamelog(ctx context.Context, session string) (*gameserver.MatchStatus, error) {
	status, err := s.server.GetMatchStatus(ctx, s.cfg.GameName, session)
	if err != nil {
		return nil, err
	}
	tries := s.cfg.GamelogRetries
	for status.Status != "over" || status.GamelogFilename == "" {
		tries--
		if tries <= 0 {
			return nil, &MatchFailedError{Reason: "gameserver did not respond with match results"}
		}
		select {
		case <-time.After(time.Duration(tries) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if status, err = s.server.GetMatchStatus(ctx, s.cfg.GameName, session); err != nil {
			return nil, err
		}
	}
	return status, nil
}

func resolveWinner(status *gameserver.MatchStatus, pair [2]models.SubmissionInfo) (winnerID int, winReason, loseReason string, err error) {
	var winnerName string
	for _, c := range status.Clients {
		if c.Won {
			winnerName = c.Name
			winReason = c.Reason
		}
		if c.Lost {
			loseReason = c.Reason
		}
	}
	if winnerName == "" {
		return 0, "", "", &MatchFailedError{Reason: "no client reported a win"}
	}
	for _, sub := range pair {
		if sub.Name == winnerName {
			return sub.ID, winReason, loseReason, nil
		}
	}
	return 0, "", "", &MatchFailedError{Reason: fmt.Sprintf("winner %q is not a member of this match", winnerName)}
}
