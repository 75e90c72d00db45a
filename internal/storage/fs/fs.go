// Package fs implements the filesystem storage backend: a scratch
// directory for staged writes and an atomic rename to publish them.
package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/aliskhannn/image-processor/internal/storage"
)

// Storage realizes storage.Backend over the local filesystem. Committed
// folders live under DataDir; stagings live under ScratchDir until
// Commit renames them into place.
type Storage struct {
	DataDir    string
	ScratchDir string
}

// New creates a filesystem backend rooted at dataDir, staging through
// scratchDir. The scratch directory is wiped and recreated: any staging
// left over from a previous run (e.g. after a crash) is never valid,
// since nothing ever committed it.
func New(dataDir, scratchDir string) (*Storage, error) {
	if err := os.RemoveAll(scratchDir); err != nil {
		return nil, fmt.Errorf("fs storage: clearing scratch dir: %w", err)
	}
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return nil, fmt.Errorf("fs storage: creating scratch dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("fs storage: creating data dir: %w", err)
	}

	return &Storage{DataDir: dataDir, ScratchDir: scratchDir}, nil
}

// Walk implements storage.Backend.
func (s *Storage) Walk(_ context.Context, publicName string) ([]storage.FolderEntry, bool, error) {
	root := filepath.Join(s.DataDir, publicName)
	entries, err := walkDir(root)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func walkDir(path string) ([]storage.FolderEntry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	sort.Slice(dirEntries, func(i, j int) bool { return dirEntries[i].Name() < dirEntries[j].Name() })

	result := make([]storage.FolderEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := storage.FolderEntry{Name: de.Name()}
		if de.IsDir() {
			children, err := walkDir(filepath.Join(path, de.Name()))
			if err != nil {
				return nil, fmt.Errorf("fs storage: walking %s: %w", de.Name(), err)
			}
			if children == nil {
				children = []storage.FolderEntry{}
			}
			entry.Children = children
		}
		result = append(result, entry)
	}
	return result, nil
}

// CreateStaged implements storage.Backend.
func (s *Storage) CreateStaged(_ context.Context, publicName string) (storage.StagedHandle, error) {
	dir := filepath.Join(s.ScratchDir, publicName+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs storage: creating staged dir: %w", err)
	}
	return &stagedHandle{dir: dir}, nil
}

// Commit implements storage.Backend. The rename is atomic on a POSIX
// filesystem as long as DataDir and ScratchDir share the same mount.
func (s *Storage) Commit(_ context.Context, handle storage.StagedHandle, publicName string) error {
	h, ok := handle.(*stagedHandle)
	if !ok {
		return fmt.Errorf("fs storage: commit called with a handle from a different backend")
	}

	dest := filepath.Join(s.DataDir, publicName)
	if err := os.Rename(h.dir, dest); err != nil {
		return fmt.Errorf("fs storage: committing staged folder: %w", err)
	}
	return nil
}

type stagedHandle struct {
	dir string
}

func (h *stagedHandle) CreateFile(_ context.Context, relativeName string, data []byte) error {
	full := filepath.Join(h.dir, relativeName)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("fs storage: creating parent dir for %s: %w", relativeName, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("fs storage: writing %s: %w", relativeName, err)
	}
	return nil
}

func (h *stagedHandle) CreateSubfolder(_ context.Context, relativeName string) error {
	if err := os.MkdirAll(filepath.Join(h.dir, relativeName), 0o755); err != nil {
		return fmt.Errorf("fs storage: creating subfolder %s: %w", relativeName, err)
	}
	return nil
}

func (h *stagedHandle) Discard(_ context.Context) error {
	return os.RemoveAll(h.dir)
}
