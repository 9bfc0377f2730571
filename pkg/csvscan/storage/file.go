package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// FileOpener opens files on the local filesystem.
type FileOpener struct{}

func (FileOpener) Open(_ context.Context, loc types.Location) (Stream, error) {
	f, err := os.Open(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return f, nil
}

func (FileOpener) Size(_ context.Context, loc types.Location) (int64, error) {
	stat, err := os.Stat(loc.Path)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	return stat.Size(), nil
}
