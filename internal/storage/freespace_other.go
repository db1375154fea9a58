//go:build !unix

package storage

import "errors"

// FreeSpace is not implemented on this platform; callers skip the disk-usage
// check when it errors.
func (f *FS) FreeSpace(path string) (int64, error) {
	return 0, errors.ErrUnsupported
}
