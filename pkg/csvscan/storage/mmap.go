package storage

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// MmapOpener serves local files from a read-only memory mapping. Each Open
// maps the file once; Close unmaps it.
type MmapOpener struct{}

// maxMapSize is the largest file a mapping can address on this platform.
var maxMapSize int64 = math.MaxInt

func (MmapOpener) Open(_ context.Context, loc types.Location) (Stream, error) {
	f, err := os.Open(loc.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpen, err)
	}
	if stat.Size() > maxMapSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, too large to map", ErrOpen, loc.Path, stat.Size())
	}
	data, err := mapFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %w", ErrOpen, loc.Path, err)
	}
	return &mmapStream{Reader: bytes.NewReader(data), data: data}, nil
}

func (MmapOpener) Size(ctx context.Context, loc types.Location) (int64, error) {
	return FileOpener{}.Size(ctx, loc)
}

type mmapStream struct {
	*bytes.Reader
	data   []byte
	closed bool
}

func (s *mmapStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.Reader = bytes.NewReader(nil)
	return unmapFile(s.data)
}
