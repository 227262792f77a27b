//go:build !unix

package storage

import (
	"io"
	"os"
	"path/filepath"
)

// lockDir only creates the LOCK file where flock is unavailable.
func lockDir(dir string) (io.Closer, error) {
	return os.OpenFile(filepath.Join(dir, LockFileName), os.O_RDWR|os.O_CREATE, 0644)
}
