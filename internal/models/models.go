package models

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Submission statuses written by the arena. Anything else (e.g. "new",
// "building") is owned by the upload pipeline and only read here.
const (
	SubmissionFinished = "finished"
	SubmissionFailed   = "failed"
)

// Game lifecycle: queued -> playing -> {finished, failed}
const (
	GameQueued   = "queued"
	GamePlaying  = "playing"
	GameFinished = "finished"
	GameFailed   = "failed"
)

// Team represents a registered team
type Team struct {
	ID            int           `db:"id" json:"id"`
	Name          string        `db:"name" json:"name"`
	TeamCaptainID sql.NullInt64 `db:"team_captain_id" json:"team_captain_id,omitempty"`
	IsEligible    bool          `db:"is_eligible" json:"is_eligible"`
}

// Submission is one uploaded bot version for a team. The data column holds
// the raw zip and is only selected when materialising the bot.
type Submission struct {
	ID        int            `db:"id" json:"id"`
	TeamID    int            `db:"team_id" json:"team_id"`
	Version   int            `db:"version" json:"version"`
	Status    string         `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	LogURL    sql.NullString `db:"log_url" json:"log_url,omitempty"`
}

// SubmissionInfo is the listing shape used by the pairing selector and the
// bracket engine: a submission joined with its team name.
type SubmissionInfo struct {
	ID        int       `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Version   int       `db:"version" json:"version"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Game represents one match between two submissions
type Game struct {
	ID         int            `db:"id" json:"id"`
	Status     string         `db:"status" json:"status"`
	WinnerID   sql.NullInt64  `db:"winner_id" json:"winner_id,omitempty"`
	WinReason  sql.NullString `db:"win_reason" json:"win_reason,omitempty"`
	LoseReason sql.NullString `db:"lose_reason" json:"lose_reason,omitempty"`
	LogURL     sql.NullString `db:"log_url" json:"log_url,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// GameSubmission links a game to one of its two sides
type GameSubmission struct {
	GameID       int            `db:"game_id" json:"game_id"`
	SubmissionID int            `db:"submission_id" json:"submission_id"`
	OutputURL    sql.NullString `db:"output_url" json:"output_url,omitempty"`
}

// RecentGame is a recent-games row with both side ids aggregated
type RecentGame struct {
	ID            int    `db:"id"`
	Status        string `db:"status"`
	SubmissionIDs string `db:"submission_ids"` // comma-separated pair
}

// PairIDs parses the aggregated submission_ids column into its two ids
func (g RecentGame) PairIDs() ([2]int, error) {
	var ids [2]int
	parts := strings.Split(g.SubmissionIDs, ",")
	if len(parts) != 2 {
		return ids, fmt.Errorf("game %d has %d submissions", g.ID, len(parts))
	}
	for i, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return ids, fmt.Errorf("game %d submission id %q: %w", g.ID, p, err)
		}
		ids[i] = id
	}
	return ids, nil
}
