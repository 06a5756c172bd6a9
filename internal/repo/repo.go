package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/siggame/gorena/internal/models"
)

// Repository is the one place SQL lives. Both the match runner and the
// bracket engine go through it; everything else treats rows as opaque.
type Repository struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// latestEligibleQuery returns, per eligible team, the submission row with the
// highest non-failed version. A team is eligible when it has a captain and
// the is_eligible flag set.
const latestEligibleQuery = `
SELECT s.id, t.name, s.version, s.status, s.created_at
FROM submissions s
INNER JOIN (
    SELECT team_id, MAX(version) AS version
    FROM submissions
    WHERE status != 'failed'
    GROUP BY team_id
) m ON s.team_id = m.team_id AND s.version = m.version
INNER JOIN teams t ON s.team_id = t.id
WHERE t.team_captain_id IS NOT NULL
  AND t.is_eligible
  AND s.status != 'failed'`

func (r *Repository) ListLatestEligibleSubmissions(ctx context.Context) ([]models.SubmissionInfo, error) {
	var subs []models.SubmissionInfo
	if err := r.db.SelectContext(ctx, &subs, latestEligibleQuery); err != nil {
		return nil, fmt.Errorf("list latest eligible submissions: %w", err)
	}
	return subs, nil
}

func (r *Repository) ListAllSubmissions(ctx context.Context) ([]models.SubmissionInfo, error) {
	var subs []models.SubmissionInfo
	err := r.db.SelectContext(ctx, &subs, `
		SELECT s.id, t.name, s.version, s.status, s.created_at
		FROM submissions s
		INNER JOIN teams t ON s.team_id = t.id`)
	if err != nil {
		return nil, fmt.Errorf("list all submissions: %w", err)
	}
	return subs, nil
}

func (r *Repository) ListRecentGames(ctx context.Context, lookback time.Duration) ([]models.RecentGame, error) {
	var games []models.RecentGame
	err := r.db.SelectContext(ctx, &games, `
		SELECT g.id, g.status,
		       string_agg(gs.submission_id::text, ',') AS submission_ids
		FROM games g
		INNER JOIN games_submissions gs ON g.id = gs.game_id
		WHERE g.created_at > (current_timestamp - ($1 * interval '1 second'))
		GROUP BY g.id, g.status`, int64(lookback.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("list recent games: %w", err)
	}
	return games, nil
}

// ClaimQueuedGame atomically flips the lowest-id queued game to playing and
// returns it with its two submission ids. FOR UPDATE SKIP LOCKED means
// concurrent runners never claim the same row; the second claimer simply
// sees no queued games. Returns (0, nil, nil) when the queue is empty.
func (r *Repository) ClaimQueuedGame(ctx context.Context) (int, []int, error) {
	var gameID int
	err := r.db.GetContext(ctx, &gameID, `
		UPDATE games g
		SET status = 'playing'
		WHERE id = (
		  SELECT id
		  FROM games
		  WHERE status = 'queued'
		  ORDER BY id
		  FOR UPDATE SKIP LOCKED
		  LIMIT 1
		)
		RETURNING g.id`)
	if err == sql.ErrNoRows {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("claim queued game: %w", err)
	}

	var subIDs []int
	err = r.db.SelectContext(ctx, &subIDs, `
		SELECT gs.submission_id
		FROM games_submissions gs
		WHERE gs.game_id = $1
		ORDER BY gs.submission_id`, gameID)
	if err != nil {
		return 0, nil, fmt.Errorf("claimed game %d submissions: %w", gameID, err)
	}
	return gameID, subIDs, nil
}

// CreatePlayingGame inserts a game already in the playing state (the caller
// is about to run it) plus its two games_submissions rows in one transaction.
func (r *Repository) CreatePlayingGame(ctx context.Context, leftID, rightID int) (int, error) {
	return r.createGame(ctx, models.GamePlaying, leftID, rightID)
}

// CreateQueuedGame inserts a queued game for a runner to claim later.
func (r *Repository) CreateQueuedGame(ctx context.Context, leftID, rightID int) (int, error) {
	return r.createGame(ctx, models.GameQueued, leftID, rightID)
}

func (r *Repository) createGame(ctx context.Context, status string, leftID, rightID int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create game: %w", err)
	}
	defer tx.Rollback()

	var gameID int
	if err := tx.GetContext(ctx, &gameID,
		`INSERT INTO games (status) VALUES ($1) RETURNING id`, status); err != nil {
		return 0, fmt.Errorf("insert game: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO games_submissions (game_id, submission_id)
		VALUES ($1, $2), ($1, $3)`, gameID, leftID, rightID)
	if err != nil {
		return 0, fmt.Errorf("insert games_submissions for game %d: %w", gameID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create game: %w", err)
	}
	return gameID, nil
}

func (r *Repository) LoadSubmissionBlob(ctx context.Context, submissionID int) ([]byte, error) {
	var data []byte
	err := r.db.GetContext(ctx, &data,
		`SELECT data FROM submissions WHERE id = $1`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load submission %d blob: %w", submissionID, err)
	}
	return data, nil
}

func (r *Repository) SetSubmissionStatus(ctx context.Context, submissionID int, status, logURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE submissions
		SET status = $1, log_url = $2
		WHERE id = $3`, status, logURL, submissionID)
	if err != nil {
		return fmt.Errorf("set submission %d status %s: %w", submissionID, status, err)
	}
	return nil
}

func (r *Repository) SetGameFinished(ctx context.Context, gameID int, winReason, loseReason string, winnerID int, logURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE games
		SET status = 'finished',
		    win_reason = $1,
		    lose_reason = $2,
		    winner_id = $3,
		    log_url = $4
		WHERE id = $5`, winReason, loseReason, winnerID, logURL, gameID)
	if err != nil {
		return fmt.Errorf("set game %d finished: %w", gameID, err)
	}
	return nil
}

func (r *Repository) SetGameFailed(ctx context.Context, gameID int, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE games
		SET status = 'failed',
		    win_reason = $1,
		    lose_reason = $1
		WHERE id = $2`, reason, gameID)
	if err != nil {
		return fmt.Errorf("set game %d failed: %w", gameID, err)
	}
	return nil
}

func (r *Repository) SetGameSubmissionOutput(ctx context.Context, gameID, submissionID int, outputURL string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE games_submissions
		SET output_url = $1
		WHERE game_id = $2 AND submission_id = $3`, outputURL, gameID, submissionID)
	if err != nil {
		return fmt.Errorf("set game %d submission %d output: %w", gameID, submissionID, err)
	}
	return nil
}

// GetGames fetches games by id, used by the bracket engine to refresh the
// status of games it has attached to nodes.
func (r *Repository) GetGames(ctx context.Context, gameIDs []int) ([]models.Game, error) {
	if len(gameIDs) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT id, status, winner_id, win_reason, lose_reason, log_url, created_at
		FROM games
		WHERE id IN (?)`, gameIDs)
	if err != nil {
		return nil, fmt.Errorf("build get games query: %w", err)
	}
	var games []models.Game
	if err := r.db.SelectContext(ctx, &games, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get games: %w", err)
	}
	return games, nil
}

// FindReusableFinishedGame returns the highest-id finished game whose two
// sides are exactly this pair and whose id is not already attached to any
// bracket node. Returns nil when no such game exists.
func (r *Repository) FindReusableFinishedGame(ctx context.Context, leftID, rightID int, excludedIDs []int) (*models.Game, error) {
	// Always non-empty so the NOT IN clause stays valid
	excluded := append([]int{-1}, excludedIDs...)
	query, args, err := sqlx.In(`
		SELECT g.id, g.status, g.winner_id, g.win_reason, g.lose_reason, g.log_url, g.created_at
		FROM games g
		INNER JOIN games_submissions gs1 ON g.id = gs1.game_id
		INNER JOIN games_submissions gs2 ON g.id = gs2.game_id
		WHERE gs1.submission_id = ?
		  AND gs2.submission_id = ?
		  AND g.status = 'finished'
		  AND g.id NOT IN (?)
		ORDER BY g.id DESC
		LIMIT 1`, leftID, rightID, excluded)
	if err != nil {
		return nil, fmt.Errorf("build reusable game query: %w", err)
	}
	var game models.Game
	err = r.db.GetContext(ctx, &game, r.db.Rebind(query), args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find reusable game %dv%d: %w", leftID, rightID, err)
	}
	return &game, nil
}
