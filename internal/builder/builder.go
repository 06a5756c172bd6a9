package builder

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/siggame/gorena/internal/models"
)

// Languages a Joueur.<lang> client can be written in
var knownLanguages = map[string]bool{
	"py": true, "cpp": true, "cs": true, "lua": true,
	"java": true, "js": true, "ts": true,
}

const joueurPrefix = "Joueur."

// A zip smaller than this cannot be a real submission; re-download it
const minZipSize = 1024

// PrebuildError marks a submission as broken before the image build even
// starts: bad zip layout, unknown language, missing Makefile or run file,
// or a missing per-language Dockerfile.
type PrebuildError struct {
	SubmissionID int
	Message      string
}

func (e *PrebuildError) Error() string {
	return fmt.Sprintf("submission %d prebuild failed: %s", e.SubmissionID, e.Message)
}

// Repo is the slice of the repository the builder needs
type Repo interface {
	LoadSubmissionBlob(ctx context.Context, submissionID int) ([]byte, error)
	SetSubmissionStatus(ctx context.Context, submissionID int, status, logURL string) error
}

// Uploader pushes a local artifact to the blob store
type Uploader interface {
	UploadFile(localPath, remoteName string) (string, error)
}

// ImageBuilder is the slice of the container engine the builder needs
type ImageBuilder interface {
	ImageExists(ctx context.Context, tag string) (bool, error)
	BuildImage(ctx context.Context, contextDir, tag string, out io.Writer) error
}

// Builder materialises a submission into a runnable container image. Every
// step is idempotent: cached zips, unpacked trees, and built images are all
// reused on later runs.
type Builder struct {
	repo           Repo
	uploader       Uploader
	engine         ImageBuilder
	cachePath      string
	logfilePath    string
	dockerfilePath string
}

func New(repo Repo, uploader Uploader, engine ImageBuilder, cachePath, logfilePath, dockerfilePath string) *Builder {
	return &Builder{
		repo:           repo,
		uploader:       uploader,
		engine:         engine,
		cachePath:      cachePath,
		logfilePath:    logfilePath,
		dockerfilePath: dockerfilePath,
	}
}

// ImageTag returns the write-once image tag for a submission
func ImageTag(submissionID int) string {
	return fmt.Sprintf("submission_%d", submissionID)
}

func (b *Builder) zipPath(submissionID int) string {
	return filepath.Join(b.cachePath, fmt.Sprintf("submission_%d.zip", submissionID))
}

func (b *Builder) unzippedDir(submissionID int) string {
	return filepath.Join(b.cachePath, fmt.Sprintf("submission_%d", submissionID))
}

func (b *Builder) buildlogPath(submissionID int) string {
	return filepath.Join(b.logfilePath, fmt.Sprintf("dockerbuild_%d", submissionID))
}

// Prepare runs the full materialisation pipeline for one submission. On a
// prebuild failure the error detail is uploaded as prebuild_failure_<id> and
// the submission is marked failed before the error is returned.
func (b *Builder) Prepare(ctx context.Context, sub models.SubmissionInfo) error {
	if err := b.prebuild(ctx, sub.ID); err != nil {
		b.reportPrebuildFailure(ctx, sub.ID, err)
		return err
	}
	return b.buildImage(ctx, sub.ID)
}

func (b *Builder) prebuild(ctx context.Context, submissionID int) error {
	if err := b.ensureZip(ctx, submissionID); err != nil {
		return err
	}
	if err := b.ensureUnzipped(submissionID); err != nil {
		return err
	}
	joueurDir, err := b.joueurDir(submissionID)
	if err != nil {
		return err
	}
	if err := verifyContents(submissionID, joueurDir); err != nil {
		return err
	}
	return b.installDockerfile(submissionID, joueurDir)
}

func (b *Builder) ensureZip(ctx context.Context, submissionID int) error {
	path := b.zipPath(submissionID)
	if info, err := os.Stat(path); err == nil && info.Size() > minZipSize {
		log.Printf("[BUILD] submission %d zip cached at %s", submissionID, path)
		return nil
	}
	log.Printf("[BUILD] downloading submission %d zip to %s", submissionID, path)
	data, err := b.repo.LoadSubmissionBlob(ctx, submissionID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(b.cachePath, 0o755); err != nil {
		return fmt.Errorf("create submission cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write submission %d zip: %w", submissionID, err)
	}
	return nil
}

func (b *Builder) ensureUnzipped(submissionID int) error {
	dir := b.unzippedDir(submissionID)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		log.Printf("[BUILD] submission %d already unzipped to %s", submissionID, dir)
		return nil
	}
	zipFile := b.zipPath(submissionID)
	log.Printf("[BUILD] unzipping %s to %s", zipFile, dir)
	if err := extractZip(zipFile, dir); err != nil {
		return &PrebuildError{SubmissionID: submissionID, Message: err.Error()}
	}
	return nil
}

func extractZip(zipFile, destDir string) error {
	zr, err := zip.OpenReader(zipFile)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		target := filepath.Join(destDir, f.Name)
		// Reject entries that escape the destination
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes destination", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return fmt.Errorf("create %s: %w", target, err)
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

// joueurDir locates the single top-level Joueur.<lang> directory in the
// unzipped tree and validates the language tag.
func (b *Builder) joueurDir(submissionID int) (string, error) {
	root := b.unzippedDir(submissionID)
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("read unzipped submission %d: %w", submissionID, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), joueurPrefix) {
			continue
		}
		lang := strings.TrimPrefix(entry.Name(), joueurPrefix)
		if !knownLanguages[lang] {
			return "", &PrebuildError{
				SubmissionID: submissionID,
				Message:      fmt.Sprintf("unknown language: %s", entry.Name()),
			}
		}
		return filepath.Join(root, entry.Name()), nil
	}
	return "", &PrebuildError{
		SubmissionID: submissionID,
		Message:      fmt.Sprintf("%s does not unzip to a top-level Joueur.<lang> directory", root),
	}
}

func verifyContents(submissionID int, joueurDir string) error {
	entries, err := os.ReadDir(joueurDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", joueurDir, err)
	}
	var hasMakefile, hasRun bool
	for _, entry := range entries {
		if strings.EqualFold(entry.Name(), "Makefile") {
			hasMakefile = true
		}
		if entry.Name() == "run" {
			hasRun = true
		}
	}
	if !hasMakefile {
		return &PrebuildError{SubmissionID: submissionID, Message: fmt.Sprintf("%s does not have a Makefile", joueurDir)}
	}
	if !hasRun {
		return &PrebuildError{SubmissionID: submissionID, Message: fmt.Sprintf("%s does not have a run file", joueurDir)}
	}
	return nil
}

// installDockerfile overwrites any Dockerfile in the bot directory with the
// canonical one for the detected language. Submissions never control their
// own build environment.
func (b *Builder) installDockerfile(submissionID int, joueurDir string) error {
	lang := strings.TrimPrefix(filepath.Base(joueurDir), joueurPrefix)
	src := filepath.Join(b.dockerfilePath, lang, "Dockerfile")
	data, err := os.ReadFile(src)
	if err != nil {
		return &PrebuildError{
			SubmissionID: submissionID,
			Message:      fmt.Sprintf("Dockerfile not found at %s", src),
		}
	}
	dst := filepath.Join(joueurDir, "Dockerfile")
	log.Printf("[BUILD] installing dockerfile %s -> %s", src, dst)
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("install dockerfile for submission %d: %w", submissionID, err)
	}
	return nil
}

func (b *Builder) buildImage(ctx context.Context, submissionID int) error {
	tag := ImageTag(submissionID)
	exists, err := b.engine.ImageExists(ctx, tag)
	if err != nil {
		return err
	}
	if exists {
		log.Printf("[BUILD] %s already built", tag)
		return nil
	}

	joueurDir, err := b.joueurDir(submissionID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(b.logfilePath, 0o755); err != nil {
		return fmt.Errorf("create logfile dir: %w", err)
	}
	logPath := b.buildlogPath(submissionID)
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("create build log %s: %w", logPath, err)
	}

	log.Printf("[BUILD] building %s from %s (log: %s)", tag, joueurDir, logPath)
	buildErr := b.engine.BuildImage(ctx, joueurDir, tag, io.MultiWriter(logFile, os.Stdout))
	logFile.Close()
	if buildErr != nil {
		return buildErr
	}

	logName := fmt.Sprintf("dockerbuild_%d", submissionID)
	logURL, err := b.uploader.UploadFile(logPath, logName)
	if err != nil {
		return fmt.Errorf("upload build log for submission %d: %w", submissionID, err)
	}

	// The build stream can end without an error yet produce nothing; the
	// image's presence is the source of truth, as with `docker images -q`.
	exists, err = b.engine.ImageExists(ctx, tag)
	if err != nil {
		return err
	}
	if !exists {
		if err := b.repo.SetSubmissionStatus(ctx, submissionID, models.SubmissionFailed, logURL); err != nil {
			log.Printf("[BUILD] failed to mark submission %d failed: %v", submissionID, err)
		}
		return fmt.Errorf("failed to build image for submission %d (log: %s)", submissionID, logURL)
	}
	return b.repo.SetSubmissionStatus(ctx, submissionID, models.SubmissionFinished, logURL)
}

// reportPrebuildFailure uploads the error text as prebuild_failure_<id> and
// marks the submission failed with that URL. Best-effort: a failure to
// report never masks the original error.
func (b *Builder) reportPrebuildFailure(ctx context.Context, submissionID int, cause error) {
	name := fmt.Sprintf("prebuild_failure_%d", submissionID)
	path := filepath.Join(b.logfilePath, name)
	if err := os.MkdirAll(b.logfilePath, 0o755); err != nil {
		log.Printf("[BUILD] cannot create logfile dir: %v", err)
		return
	}
	if err := os.WriteFile(path, []byte(cause.Error()), 0o644); err != nil {
		log.Printf("[BUILD] cannot write prebuild failure file: %v", err)
		return
	}
	url, err := b.uploader.UploadFile(path, name)
	if err != nil {
		log.Printf("[BUILD] cannot upload prebuild failure for submission %d: %v", submissionID, err)
		return
	}
	if err := b.repo.SetSubmissionStatus(ctx, submissionID, models.SubmissionFailed, url); err != nil {
		log.Printf("[BUILD] cannot mark submission %d failed: %v", submissionID, err)
	}
}
