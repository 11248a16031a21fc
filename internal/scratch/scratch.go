// Package scratch owns the per-job filesystem workspace. Every blob a job
// produces before promotion lives under <base>/<job_id>/{images,audio,temp}.
package scratch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bobarin/storyreel/internal/models"
)

// Store hands out per-job workspaces under a shared base directory.
type Store struct {
	base      string
	videosDir string
}

// NewStore creates a scratch store rooted at base; promoted videos land under
// videosDir/<job_id>/.
func NewStore(base, videosDir string) (*Store, error) {
	for _, dir := range []string{base, videosDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, storageErr("create base dir %s", dir, err)
		}
	}
	return &Store{base: base, videosDir: videosDir}, nil
}

// Scratch is one job's workspace. Owned exclusively by that job.
type Scratch struct {
	jobID     uuid.UUID
	root      string
	videosDir string
}

// Open creates (idempotently) the workspace tree for a job.
func (s *Store) Open(jobID uuid.UUID) (*Scratch, error) {
	root := filepath.Join(s.base, jobID.String())
	for _, sub := range []string{"images", "audio", "temp"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, storageErr("create scratch tree for job %s", jobID.String(), err)
		}
	}
	return &Scratch{jobID: jobID, root: root, videosDir: s.videosDir}, nil
}

// Root returns the absolute workspace root.
func (sc *Scratch) Root() string { return sc.root }

// ImagesDir returns the images subtree.
func (sc *Scratch) ImagesDir() string { return filepath.Join(sc.root, "images") }

// AudioDir returns the audio subtree.
func (sc *Scratch) AudioDir() string { return filepath.Join(sc.root, "audio") }

// TempDir returns the temp subtree (scene clips, chapter clips, concat lists).
func (sc *Scratch) TempDir() string { return filepath.Join(sc.root, "temp") }

// SaveImage writes an image blob atomically and returns its absolute path.
func (sc *Scratch) SaveImage(data []byte, hint string) (string, error) {
	return sc.writeAtomic(sc.ImagesDir(), hint, data)
}

// SaveAudio writes an audio blob atomically and returns its absolute path.
func (sc *Scratch) SaveAudio(data []byte, hint string) (string, error) {
	return sc.writeAtomic(sc.AudioDir(), hint, data)
}

// SaveTemp writes a temp blob atomically and returns its absolute path.
func (sc *Scratch) SaveTemp(data []byte, hint string) (string, error) {
	return sc.writeAtomic(sc.TempDir(), hint, data)
}

// TempPath returns an absolute path inside temp/ for tools that write files
// themselves (ffmpeg outputs).
func (sc *Scratch) TempPath(filename string) string {
	return filepath.Join(sc.TempDir(), sanitizeHint(filename))
}

// writeAtomic writes data to a temp file in the same subtree and renames it
// into place, so readers never observe a partial blob.
func (sc *Scratch) writeAtomic(dir, hint string, data []byte) (string, error) {
	name := sanitizeHint(hint)
	final := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", storageErr("create temp for %s", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", storageErr("write %s", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", storageErr("close %s", name, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return "", storageErr("rename %s into place", name, err)
	}
	return final, nil
}

// Promote moves the final video out of the scratch tree into the videos
// directory and fsyncs the containing directory so the move is durable.
func (sc *Scratch) Promote(path string) (string, error) {
	destDir := filepath.Join(sc.videosDir, sc.jobID.String())
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", storageErr("create videos dir for job %s", sc.jobID.String(), err)
	}
	dest := filepath.Join(destDir, "final.mp4")

	if err := os.Rename(path, dest); err != nil {
		// Rename fails across filesystems; fall back to copy + remove.
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return "", storageErr("promote %s", path, err)
		}
		if werr := os.WriteFile(dest, data, 0644); werr != nil {
			return "", storageErr("promote copy to %s", dest, werr)
		}
		os.Remove(path)
	}

	if err := syncDir(destDir); err != nil {
		return "", storageErr("fsync videos dir %s", destDir, err)
	}

	log.Printf("[Scratch] Promoted final video for job %s to %s", sc.jobID, dest)
	return dest, nil
}

// Cleanup removes the whole scratch tree. Tolerates partial or already
// removed trees.
func (sc *Scratch) Cleanup() error {
	if err := os.RemoveAll(sc.root); err != nil {
		return storageErr("remove scratch tree %s", sc.root, err)
	}
	log.Printf("[Scratch] Cleaned up workspace for job %s", sc.jobID)
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// sanitizeHint strips path separators from caller-supplied filename hints so
// blobs cannot escape their subtree.
func sanitizeHint(hint string) string {
	hint = filepath.Base(hint)
	hint = strings.ReplaceAll(hint, string(os.PathSeparator), "_")
	if hint == "" || hint == "." {
		hint = "blob"
	}
	return hint
}

func storageErr(format, arg string, cause error) *models.PipelineError {
	return models.NewPipelineError(models.ErrKindStorage, fmt.Sprintf(format+": %v", arg, cause), cause)
}
