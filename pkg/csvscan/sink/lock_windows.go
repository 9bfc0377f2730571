//go:build windows

package sink

import (
	"os"
)

// Locking is a no-op on windows; concurrent appends are not guarded there.
func lockFile(*os.File) error {
	return nil
}

func unlockFile(*os.File) error {
	return nil
}
