package droopy

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client uploads log artifacts to a droopy blob server. Droopy accepts a
// multipart POST with a single "upfile" field and serves the file back at
// baseURL + filename.
type Client struct {
	baseURL string // trailing slash expected
	creds   string // "user:pass", empty for no auth
	http    *http.Client
}

func NewClient(baseURL, creds string) *Client {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// UploadFile posts the local file under remoteName and returns the URL the
// upload is retrievable at.
func (c *Client) UploadFile(localPath, remoteName string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("upfile", filepath.Base(remoteName))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL, pr)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.creds != "" {
		user, pass, _ := strings.Cut(c.creds, ":")
		req.SetBasicAuth(user, pass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", remoteName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("upload %s: droopy returned %d: %s", remoteName, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return c.baseURL + remoteName, nil
}
