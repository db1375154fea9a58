package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// FS implements Provider backed by the local file system, rooted at the
// library directory. Destructive methods reject paths that escape the root.
type FS struct {
	root string // absolute path to the library directory
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute library root.
func (f *FS) Root() string { return f.root }

// Contains reports whether path lies at or under the library root.
func (f *FS) Contains(path string) bool {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return false
	}
	return abs == f.root || strings.HasPrefix(abs, f.root+string(os.PathSeparator))
}

func (f *FS) guard(path string) error {
	if !f.Contains(path) {
		return fmt.Errorf("storage: path escapes library root: %s", path)
	}
	return nil
}

// Exists reports whether path exists.
func (f *FS) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func (f *FS) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Readable reports whether path can be opened for reading.
func (f *FS) Readable(path string) bool {
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

// Writable reports whether new entries can be created under the directory at
// path, probed by creating and removing a temp file.
func (f *FS) Writable(path string) bool {
	if !f.IsDir(path) {
		return false
	}
	tmp, err := os.CreateTemp(path, ".hondana-probe-*")
	if err != nil {
		return false
	}
	name := tmp.Name()
	tmp.Close()
	os.Remove(name)
	return true
}

// EstimateSize returns the total byte size of path, recursing into
// directories. Entries that cannot be read are skipped rather than failing
// the whole estimate.
func (f *FS) EstimateSize(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		fi, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		total += fi.Size()
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("storage: estimate %s: %w", path, err)
	}
	return total, nil
}

// IsPathBusy probes whether path is in use. For directories it attempts to
// create and remove a sentinel temp file; for files it attempts an exclusive
// open. Both are racy, OS-dependent heuristics and callers treat a positive
// result as a warning, not a hard failure.
func (f *FS) IsPathBusy(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		tmp, err := os.CreateTemp(path, ".hondana-busy-*")
		if err != nil {
			return true
		}
		name := tmp.Name()
		tmp.Close()
		os.Remove(name)
		return false
	}
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return true
	}
	file.Close()
	return false
}

// Move renames src to dst, creating dst's parent directory first. A
// cross-device rename falls back to copy+delete.
func (f *FS) Move(src, dst string) error {
	if err := f.guard(src); err != nil {
		return err
	}
	if err := f.guard(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		if copyErr := f.CopyTree(src, dst); copyErr != nil {
			return fmt.Errorf("storage: cross-device move: %w", copyErr)
		}
		return f.RemoveAll(src)
	}
	return fmt.Errorf("storage: move: %w", err)
}

// RemoveAll deletes path recursively.
func (f *FS) RemoveAll(path string) error {
	if err := f.guard(path); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("storage: remove %s: %w", path, err)
	}
	return nil
}

// CopyTree recursively copies src to dst, preserving symlinks and file modes.
func (f *FS) CopyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("storage: stat %s: %w", src, err)
	}
	return copyEntry(src, dst, info)
}

func copyEntry(src, dst string, info os.FileInfo) error {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("storage: readlink %s: %w", src, err)
		}
		return os.Symlink(target, dst)

	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("storage: mkdir %s: %w", dst, err)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("storage: read dir %s: %w", src, err)
		}
		for _, e := range entries {
			ei, err := e.Info()
			if err != nil {
				return err
			}
			if err := copyEntry(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name()), ei); err != nil {
				return err
			}
		}
		return nil

	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("storage: copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("storage: fsync %s: %w", dst, err)
	}
	return out.Close()
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
