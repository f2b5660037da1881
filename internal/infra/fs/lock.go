package fs

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/afero"
)

// AcquireLock takes the advisory run lock at lockPath by creating it with
// O_EXCL. A second instance pointed at the same state file fails here
// instead of racing the first one. The returned release func removes the
// lock file.
//
// This is best-effort mutual exclusion: a crashed process leaves the lock
// behind, and the operator removes it by hand (the error message names the
// path for that reason).
func AcquireLock(fsys afero.Fs, lockPath string) (release func() error, err error) {
	f, err := fsys.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("another instance appears to be running (lock %s held): %w", lockPath, err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	_ = f.Close()

	return func() error { return fsys.Remove(lockPath) }, nil
}
