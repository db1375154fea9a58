//go:build unix

package storage

import (
	"fmt"
	"syscall"
)

// FreeSpace returns the free bytes on the volume containing path.
func (f *FS) FreeSpace(path string) (int64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("storage: statfs %s: %w", path, err)
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
