package scan

import (
	"context"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// Producer is the pull-based record source contract every scan variant
// implements. Initialize must succeed before HasNext or Next are called;
// Dispose may be called at any point after Initialize, any number of times.
// Next returns io.EOF once the source is exhausted.
type Producer interface {
	Initialize(ctx context.Context) error
	HasNext() (bool, error)
	Next() (types.Record, error)
	Dispose() error
}
