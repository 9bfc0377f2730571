package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// ErrOpen wraps every failure to reach a store or open an object in it.
var ErrOpen = errors.New("open failure")

// Stream is a seekable byte stream over one object.
type Stream interface {
	io.ReadSeekCloser
}

// Opener connects to a store and opens objects in it.
type Opener interface {
	Open(ctx context.Context, loc types.Location) (Stream, error)
	Size(ctx context.Context, loc types.Location) (int64, error)
}

const (
	SchemeFile = "file"
	SchemeMmap = "mmap"
	SchemeS3   = "s3"
)

// ParseLocation splits a URI such as s3://bucket/key, file:///data/x.csv or
// a bare path into a Location.
func ParseLocation(uri string) (types.Location, error) {
	if uri == "" {
		return types.Location{}, fmt.Errorf("empty location")
	}
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return types.Location{Host: SchemeFile + "://", Path: uri}, nil
	}

	switch scheme {
	case SchemeFile, SchemeMmap:
		return types.Location{Host: scheme + "://", Path: rest}, nil
	case SchemeS3:
		bucket, key, _ := strings.Cut(rest, "/")
		if bucket == "" || key == "" {
			return types.Location{}, fmt.Errorf("s3 location needs bucket and key: %s", uri)
		}
		return types.Location{Host: SchemeS3 + "://" + bucket, Path: key}, nil
	}
	return types.Location{}, fmt.Errorf("unsupported scheme %q in %s", scheme, uri)
}

// Scheme returns the store scheme of a location; bare paths are files.
func Scheme(loc types.Location) string {
	scheme, _, ok := strings.Cut(loc.Host, "://")
	if !ok || scheme == "" {
		return SchemeFile
	}
	return scheme
}

// Router dispatches to an Opener by location scheme.
type Router struct {
	openers map[string]Opener
}

// NewRouter returns a router serving file:// and mmap:// locations. Register
// adds further stores such as S3.
func NewRouter() *Router {
	return &Router{
		openers: map[string]Opener{
			SchemeFile: FileOpener{},
			SchemeMmap: MmapOpener{},
		},
	}
}

// Register installs o for scheme, replacing any previous opener.
func (r *Router) Register(scheme string, o Opener) {
	r.openers[scheme] = o
}

func (r *Router) lookup(loc types.Location) (Opener, error) {
	scheme := Scheme(loc)
	o, ok := r.openers[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no store registered for scheme %q", ErrOpen, scheme)
	}
	return o, nil
}

func (r *Router) Open(ctx context.Context, loc types.Location) (Stream, error) {
	o, err := r.lookup(loc)
	if err != nil {
		return nil, err
	}
	return o.Open(ctx, loc)
}

func (r *Router) Size(ctx context.Context, loc types.Location) (int64, error) {
	o, err := r.lookup(loc)
	if err != nil {
		return 0, err
	}
	return o.Size(ctx, loc)
}
