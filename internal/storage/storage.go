// Package storage defines the backend contract the image processor
// depends on: a read-only recursive listing of committed folders, and a
// write side built around staged areas that become visible atomically.
package storage

import "context"

// FolderEntry is one node in a Walk result: an ordered tree of names,
// where Children == nil marks a leaf (file).
type FolderEntry struct {
	Name     string
	Children []FolderEntry // nil for a file, non-nil (possibly empty) for a folder
}

// IsFile reports whether this entry is a leaf.
func (e FolderEntry) IsFile() bool {
	return e.Children == nil
}

// StagedHandle is a writable scratch area returned by CreateStaged. The
// processor guarantees it never asks to create the same relative path
// twice within one staging, but may issue concurrent writes to distinct
// paths, so implementations must make CreateFile/CreateSubfolder safe to
// call concurrently against a single handle.
type StagedHandle interface {
	// CreateFile writes bytes at relativeName inside the staged area.
	CreateFile(ctx context.Context, relativeName string, data []byte) error

	// CreateSubfolder creates an empty subfolder at relativeName.
	CreateSubfolder(ctx context.Context, relativeName string) error

	// Discard releases the staged area without making it visible. Called
	// whenever a staging is abandoned instead of committed.
	Discard(ctx context.Context) error
}

// Backend is the storage contract consumed by the image processor. It is
// not required to be safe against concurrent writers on the same
// publicName, since the processor's dedup registry already serializes
// that; it does need Walk to be safe to call concurrently with commits of
// unrelated names.
type Backend interface {
	// Walk returns the recursive tree rooted at publicName, or (nil,
	// false) if nothing has been committed under that name yet.
	Walk(ctx context.Context, publicName string) ([]FolderEntry, bool, error)

	// CreateStaged allocates a writable scratch area. Implementations
	// typically suffix publicName with a per-call unique token so that
	// concurrent stagings of the same digest never collide.
	CreateStaged(ctx context.Context, publicName string) (StagedHandle, error)

	// Commit atomically makes every file written to handle visible at
	// publicName: either the whole tree appears, or none of it does.
	// After a successful Commit, Walk(publicName) observes the full
	// tree. Commit consumes handle; callers must not use it afterward.
	Commit(ctx context.Context, handle StagedHandle, publicName string) error
}
