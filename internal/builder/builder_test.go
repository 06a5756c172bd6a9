package builder

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/siggame/gorena/internal/models"
)

type fakeRepo struct {
	blobs    map[int][]byte
	statuses map[int]string
	logURLs  map[int]string
	loads    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		blobs:    make(map[int][]byte),
		statuses: make(map[int]string),
		logURLs:  make(map[int]string),
	}
}

func (f *fakeRepo) LoadSubmissionBlob(ctx context.Context, submissionID int) ([]byte, error) {
	f.loads++
	blob, ok := f.blobs[submissionID]
	if !ok {
		return nil, errors.New("no blob")
	}
	return blob, nil
}

func (f *fakeRepo) SetSubmissionStatus(ctx context.Context, submissionID int, status, logURL string) error {
	f.statuses[submissionID] = status
	f.logURLs[submissionID] = logURL
	return nil
}

type fakeUploader struct {
	uploads []string
}

func (f *fakeUploader) UploadFile(localPath, remoteName string) (string, error) {
	f.uploads = append(f.uploads, remoteName)
	return "http://files.test/" + remoteName, nil
}

type fakeImageBuilder struct {
	images map[string]bool
	builds []string
	// built images only appear after BuildImage unless pre-seeded
	buildSucceeds bool
}

func newFakeImageBuilder() *fakeImageBuilder {
	return &fakeImageBuilder{images: make(map[string]bool), buildSucceeds: true}
}

func (f *fakeImageBuilder) ImageExists(ctx context.Context, tag string) (bool, error) {
	return f.images[tag], nil
}

func (f *fakeImageBuilder) BuildImage(ctx context.Context, contextDir, tag string, out io.Writer) error {
	f.builds = append(f.builds, tag)
	io.WriteString(out, "Step 1/1 : FROM scratch\n")
	if f.buildSucceeds {
		f.images[tag] = true
	}
	return nil
}

// zipBlob builds an in-memory zip with the given name->content entries,
// padded past the minimum size check.
func zipBlob(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	// Store the padding uncompressed so it actually pushes the archive
	// past the size check; deflate would shrink repeated bytes below it.
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "padding.bin", Method: zip.Store})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(bytes.Repeat([]byte{0xAB}, 2048)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func validBlob(t *testing.T) []byte {
	return zipBlob(t, map[string]string{
		"Joueur.py/Makefile": "all:\n",
		"Joueur.py/run":      "#!/bin/sh\n",
		"Joueur.py/main.py":  "print('hi')\n",
	})
}

func newTestBuilder(t *testing.T, repo Repo, uploader Uploader, engine ImageBuilder) *Builder {
	t.Helper()
	root := t.TempDir()
	dockerfiles := filepath.Join(root, "dockerfiles")
	if err := os.MkdirAll(filepath.Join(dockerfiles, "py"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dockerfiles, "py", "Dockerfile"), []byte("FROM python:3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return New(repo, uploader, engine,
		filepath.Join(root, "cache"), filepath.Join(root, "logs"), dockerfiles)
}

func TestPrepareBuildsValidSubmission(t *testing.T) {
	repo := newFakeRepo()
	repo.blobs[5] = validBlob(t)
	engine := newFakeImageBuilder()
	b := newTestBuilder(t, repo, &fakeUploader{}, engine)

	if err := b.Prepare(context.Background(), models.SubmissionInfo{ID: 5, Name: "team_5"}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if repo.statuses[5] != models.SubmissionFinished {
		t.Errorf("status = %q, want finished", repo.statuses[5])
	}
	if len(engine.builds) != 1 || engine.builds[0] != "submission_5" {
		t.Errorf("builds = %v, want [submission_5]", engine.builds)
	}
	// The canonical Dockerfile must be installed into the bot directory
	dockerfile := filepath.Join(b.unzippedDir(5), "Joueur.py", "Dockerfile")
	data, err := os.ReadFile(dockerfile)
	if err != nil {
		t.Fatalf("Dockerfile not installed: %v", err)
	}
	if string(data) != "FROM python:3\n" {
		t.Errorf("installed Dockerfile = %q", data)
	}
}

func TestPrepareSkipsBuildWhenImageExists(t *testing.T) {
	repo := newFakeRepo()
	repo.blobs[5] = validBlob(t)
	engine := newFakeImageBuilder()
	engine.images["submission_5"] = true
	b := newTestBuilder(t, repo, &fakeUploader{}, engine)

	if err := b.Prepare(context.Background(), models.SubmissionInfo{ID: 5}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(engine.builds) != 0 {
		t.Errorf("expected no build when image cached, got %v", engine.builds)
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	repo.blobs[5] = validBlob(t)
	engine := newFakeImageBuilder()
	b := newTestBuilder(t, repo, &fakeUploader{}, engine)

	for i := 0; i < 2; i++ {
		if err := b.Prepare(context.Background(), models.SubmissionInfo{ID: 5}); err != nil {
			t.Fatalf("Prepare pass %d: %v", i, err)
		}
	}
	if repo.loads != 1 {
		t.Errorf("blob loaded %d times, want 1 (zip cached)", repo.loads)
	}
	if len(engine.builds) != 1 {
		t.Errorf("image built %d times, want 1", len(engine.builds))
	}
}

func TestPrepareUnknownLanguage(t *testing.T) {
	repo := newFakeRepo()
	repo.blobs[6] = zipBlob(t, map[string]string{
		"Joueur.rb/Makefile": "all:\n",
		"Joueur.rb/run":      "#!/bin/sh\n",
	})
	uploader := &fakeUploader{}
	b := newTestBuilder(t, repo, uploader, newFakeImageBuilder())

	err := b.Prepare(context.Background(), models.SubmissionInfo{ID: 6})
	var pbe *PrebuildError
	if !errors.As(err, &pbe) {
		t.Fatalf("err = %v, want PrebuildError", err)
	}
	if repo.statuses[6] != models.SubmissionFailed {
		t.Errorf("status = %q, want failed", repo.statuses[6])
	}
	if len(uploader.uploads) != 1 || uploader.uploads[0] != "prebuild_failure_6" {
		t.Errorf("uploads = %v, want [prebuild_failure_6]", uploader.uploads)
	}
	if repo.logURLs[6] == "" {
		t.Errorf("failed submission should carry the failure log url")
	}
}

func TestPrepareMissingMakefile(t *testing.T) {
	repo := newFakeRepo()
	repo.blobs[7] = zipBlob(t, map[string]string{
		"Joueur.py/run":     "#!/bin/sh\n",
		"Joueur.py/main.py": "print('hi')\n",
	})
	b := newTestBuilder(t, repo, &fakeUploader{}, newFakeImageBuilder())

	err := b.Prepare(context.Background(), models.SubmissionInfo{ID: 7})
	var pbe *PrebuildError
	if !errors.As(err, &pbe) {
		t.Fatalf("err = %v, want PrebuildError", err)
	}
}

func TestPrepareNoJoueurDirectory(t *testing.T) {
	repo := newFakeRepo()
	repo.blobs[8] = zipBlob(t, map[string]string{
		"src/main.py": "print('hi')\n",
	})
	b := newTestBuilder(t, repo, &fakeUploader{}, newFakeImageBuilder())

	err := b.Prepare(context.Background(), models.SubmissionInfo{ID: 8})
	var pbe *PrebuildError
	if !errors.As(err, &pbe) {
		t.Fatalf("err = %v, want PrebuildError", err)
	}
}

func TestPrepareBuildProducesNoImage(t *testing.T) {
	repo := newFakeRepo()
	repo.blobs[9] = validBlob(t)
	engine := newFakeImageBuilder()
	engine.buildSucceeds = false
	b := newTestBuilder(t, repo, &fakeUploader{}, engine)

	err := b.Prepare(context.Background(), models.SubmissionInfo{ID: 9})
	if err == nil {
		t.Fatal("expected error when build produces no image")
	}
	if repo.statuses[9] != models.SubmissionFailed {
		t.Errorf("status = %q, want failed", repo.statuses[9])
	}
}

func TestExtractZipRejectsEscapingEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("../evil.txt")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("nope"))
	zw.Close()

	dir := t.TempDir()
	zipFile := filepath.Join(dir, "bad.zip")
	if err := os.WriteFile(zipFile, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := extractZip(zipFile, filepath.Join(dir, "out")); err == nil {
		t.Fatal("expected zip-slip entry to be rejected")
	}
}
