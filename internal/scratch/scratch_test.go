package scratch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	base := t.TempDir()
	store, err := NewStore(filepath.Join(base, "scratch"), filepath.Join(base, "videos"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestOpenCreatesTreeIdempotently(t *testing.T) {
	store := newTestStore(t)
	jobID := uuid.New()

	sc, err := store.Open(jobID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, dir := range []string{sc.ImagesDir(), sc.AudioDir(), sc.TempDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}

	// Second open of the same job must succeed without error.
	if _, err := store.Open(jobID); err != nil {
		t.Fatalf("second Open: %v", err)
	}
}

func TestSaveReturnsAbsolutePathInsideTree(t *testing.T) {
	store := newTestStore(t)
	sc, err := store.Open(uuid.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	path, err := sc.SaveImage([]byte("png-bytes"), "scene_1.png")
	if err != nil {
		t.Fatalf("SaveImage: %v", err)
	}

	if !filepath.IsAbs(path) {
		t.Errorf("expected absolute path, got %s", path)
	}
	if filepath.Dir(path) != sc.ImagesDir() {
		t.Errorf("image saved outside images/: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestSaveSanitizesHint(t *testing.T) {
	store := newTestStore(t)
	sc, err := store.Open(uuid.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	path, err := sc.SaveAudio([]byte("mp3"), "../../escape.mp3")
	if err != nil {
		t.Fatalf("SaveAudio: %v", err)
	}
	if filepath.Dir(path) != sc.AudioDir() {
		t.Errorf("hint escaped the audio subtree: %s", path)
	}
}

func TestPromoteMovesVideoOut(t *testing.T) {
	store := newTestStore(t)
	jobID := uuid.New()
	sc, err := store.Open(jobID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	src, err := sc.SaveTemp([]byte("mp4-bytes"), "final_concat.mp4")
	if err != nil {
		t.Fatalf("SaveTemp: %v", err)
	}

	final, err := sc.Promote(src)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}

	if filepath.Base(final) != "final.mp4" {
		t.Errorf("unexpected final name: %s", final)
	}
	if filepath.Base(filepath.Dir(final)) != jobID.String() {
		t.Errorf("final video not under job dir: %s", final)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("source still present after promote: %v", err)
	}
	if _, err := os.Stat(final); err != nil {
		t.Errorf("final video missing: %v", err)
	}
}

func TestCleanupTolerantOfPartialTree(t *testing.T) {
	store := newTestStore(t)
	sc, err := store.Open(uuid.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Knock out one subtree to simulate a partial workspace.
	if err := os.RemoveAll(sc.AudioDir()); err != nil {
		t.Fatalf("remove audio dir: %v", err)
	}

	if err := sc.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(sc.Root()); !os.IsNotExist(err) {
		t.Errorf("scratch root still present: %v", err)
	}

	// Cleanup twice is fine.
	if err := sc.Cleanup(); err != nil {
		t.Fatalf("second Cleanup: %v", err)
	}
}
