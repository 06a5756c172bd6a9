package gameserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to the game server's web port: room setup, match status, and
// gamelog download. Bot clients connect to the TCP port on their own.
type Client struct {
	host    string
	webPort string
	http    *http.Client
}

func NewClient(host, webPort string) *Client {
	return &Client{
		host:    host,
		webPort: webPort,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ClientResult is one side's outcome in a match status response
type ClientResult struct {
	Name   string `json:"name"`
	Won    bool   `json:"won"`
	Lost   bool   `json:"lost"`
	Reason string `json:"reason"`
}

// MatchStatus is the game server's view of a session
type MatchStatus struct {
	Status          string         `json:"status"`
	GamelogFilename string         `json:"gamelogFilename"`
	Clients         []ClientResult `json:"clients"`
}

type setupRequest struct {
	GameName     string       `json:"gameName"`
	Session      string       `json:"session"`
	Password     string       `json:"password"`
	GameSettings gameSettings `json:"gameSettings"`
}

type gameSettings struct {
	PlayerNames [2]string `json:"playerNames"`
}

// CreateRoom reserves a named session on the game server. On a non-2xx
// response the body is the game server's error detail and is surfaced as-is.
func (c *Client) CreateRoom(ctx context.Context, gameName, session, password string, playerNames [2]string) error {
	body, err := json.Marshal(setupRequest{
		GameName:     gameName,
		Session:      session,
		Password:     password,
		GameSettings: gameSettings{PlayerNames: playerNames},
	})
	if err != nil {
		return fmt.Errorf("marshal setup request: %w", err)
	}

	endpoint := fmt.Sprintf("http://%s:%s/setup", c.host, c.webPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build setup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("setup room %s: %w", session, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("setup room %s: gameserver returned %d: %s", session, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// GetMatchStatus fetches the status of a session
func (c *Client) GetMatchStatus(ctx context.Context, gameName, session string) (*MatchStatus, error) {
	endpoint := fmt.Sprintf("http://%s:%s/status/%s/%s", c.host, c.webPort, gameName, session)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get status %s: %w", session, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("get status %s: gameserver returned %d: %s", session, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var status MatchStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", session, err)
	}
	return &status, nil
}

// DownloadGamelog streams a gamelog to localPath
func (c *Client) DownloadGamelog(ctx context.Context, gamelogFilename, localPath string) error {
	endpoint := fmt.Sprintf("http://%s:%s/gamelog/%s", c.host, c.webPort, gamelogFilename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build gamelog request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download gamelog %s: %w", gamelogFilename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download gamelog %s: gameserver returned %d: %s", gamelogFilename, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write gamelog %s: %w", localPath, err)
	}
	return nil
}
