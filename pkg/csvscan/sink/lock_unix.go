//go:build !windows

package sink

import (
	"os"
	"syscall"
)

// lockFile blocks until it holds an exclusive lock on file.
func lockFile(file *os.File) error {
	return syscall.Flock(int(file.Fd()), syscall.LOCK_EX)
}

// unlockFile releases the lock
func unlockFile(file *os.File) error {
	return syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
}
