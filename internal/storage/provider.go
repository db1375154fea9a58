// Package storage defines the filesystem abstraction the operation engine
// mutates through.
package storage

// Provider is the interface for library filesystem operations. The probe
// methods (Exists through IsPathBusy) are read-only; the mutation methods
// refuse to touch paths outside the library root.
//
// IsPathBusy is deliberately a capability method: the default implementation
// uses a sentinel-file heuristic, and platform-specific providers may replace
// it with a real open-handle query.
type Provider interface {
	// Exists reports whether path exists.
	Exists(path string) bool
	// IsDir reports whether path exists and is a directory.
	IsDir(path string) bool
	// Readable reports whether path can be opened for reading.
	Readable(path string) bool
	// Writable reports whether new entries can be created under the
	// directory at path.
	Writable(path string) bool
	// EstimateSize returns the total byte size of path, recursing into
	// directories. Unreadable entries are skipped.
	EstimateSize(path string) (int64, error)
	// IsPathBusy reports whether path appears to be in use. Advisory only.
	IsPathBusy(path string) bool
	// FreeSpace returns the free bytes on the volume containing path.
	FreeSpace(path string) (int64, error)
	// Contains reports whether path lies at or under the library root.
	Contains(path string) bool
	// Move renames src to dst, creating dst's parent and falling back to
	// copy+delete across devices. Both paths must be inside the root.
	Move(src, dst string) error
	// RemoveAll deletes path recursively. Path must be inside the root.
	RemoveAll(path string) error
	// CopyTree recursively copies src to dst, preserving symlinks and file
	// modes. Used for backups, so src and dst may be outside the root.
	CopyTree(src, dst string) error
}
