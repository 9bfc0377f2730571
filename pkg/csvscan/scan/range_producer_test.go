package scan

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iamhimansu/csvscan/pkg/csvscan/parser"
	"github.com/iamhimansu/csvscan/pkg/csvscan/storage"
	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

const sample = "a,b,c\nd,e,f\ng,h,i\n"

type memStream struct {
	*strings.Reader
	closed *int
}

func (m memStream) Close() error {
	*m.closed++
	return nil
}

// memOpener serves in-memory files keyed by path.
type memOpener struct {
	files  map[string]string
	closes int
}

func (m *memOpener) Open(_ context.Context, loc types.Location) (storage.Stream, error) {
	content, ok := m.files[loc.Path]
	if !ok {
		return nil, storage.ErrOpen
	}
	return memStream{Reader: strings.NewReader(content), closed: &m.closes}, nil
}

func (m *memOpener) Size(_ context.Context, loc types.Location) (int64, error) {
	return int64(len(m.files[loc.Path])), nil
}

func split(start, end int64) types.Split {
	return types.Split{Location: types.Location{Path: "sample.csv"}, StartOffset: start, EndOffset: end}
}

func drain(t *testing.T, p Producer) []types.Record {
	t.Helper()
	var out []types.Record
	for {
		rec, err := p.Next()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func newOpener() *memOpener {
	return &memOpener{files: map[string]string{"sample.csv": sample}}
}

func TestRangeScanProducer_Scenario(t *testing.T) {
	opener := newOpener()
	ctx := context.Background()

	first := NewRangeScanProducer(opener, split(0, 7), ',', nil, nil)
	require.NoError(t, first.Initialize(ctx))
	require.Equal(t, []types.Record{{"a", "b", "c"}, {"d", "e", "f"}}, drain(t, first))
	require.NoError(t, first.Dispose())

	second := NewRangeScanProducer(opener, split(7, 18), ',', nil, nil)
	require.NoError(t, second.Initialize(ctx))
	require.Equal(t, []types.Record{{"g", "h", "i"}}, drain(t, second))
	require.NoError(t, second.Dispose())

	require.Equal(t, 2, opener.closes)
}

func TestRangeScanProducer_HasNextNext(t *testing.T) {
	p := NewRangeScanProducer(newOpener(), split(0, 18), ',', nil, nil)
	require.NoError(t, p.Initialize(context.Background()))
	defer p.Dispose()

	var got []types.Record
	for {
		ok, err := p.HasNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		rec, err := p.Next()
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Len(t, got, 3)
	require.Equal(t, int64(12), p.Offset())
	require.Equal(t, int64(18), p.BytesRead())

	_, err := p.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestRangeScanProducer_Projection(t *testing.T) {
	p := NewRangeScanProducer(newOpener(), split(0, 6), ',', []int{2, 0}, nil)
	require.NoError(t, p.Initialize(context.Background()))
	defer p.Dispose()

	rec, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, types.Record{"c", "a"}, rec)
}

func TestRangeScanProducer_ProjectionOutOfRange(t *testing.T) {
	p := NewRangeScanProducer(newOpener(), split(0, 6), ',', []int{3}, nil)
	require.NoError(t, p.Initialize(context.Background()))
	defer p.Dispose()

	_, err := p.Next()
	require.ErrorIs(t, err, types.ErrProjectionOutOfRange)
}

func TestRangeScanProducer_TypedWithProjection(t *testing.T) {
	opener := &memOpener{files: map[string]string{"typed.csv": "7|alice|3.5|true\n9|bob|1e3|false\n"}}
	schema := []types.FieldType{types.TypeLong, types.TypeString, types.TypeDouble, types.TypeBoolean}
	s := types.Split{Location: types.Location{Path: "typed.csv"}, EndOffset: 33}

	p := NewRangeScanProducer(opener, s, '|', []int{3, 0, 2}, schema)
	require.NoError(t, p.Initialize(context.Background()))
	defer p.Dispose()

	require.Equal(t, []types.Record{
		{true, int64(7), 3.5},
		{false, int64(9), 1000.0},
	}, drain(t, p))
}

func TestRangeScanProducer_CastFailureSurfaces(t *testing.T) {
	opener := &memOpener{files: map[string]string{"bad.csv": "1,x\n2,3\n"}}
	schema := []types.FieldType{types.TypeInteger, types.TypeInteger}
	s := types.Split{Location: types.Location{Path: "bad.csv"}, EndOffset: 8}

	p := NewRangeScanProducer(opener, s, ',', nil, schema)
	require.NoError(t, p.Initialize(context.Background()))
	defer p.Dispose()

	rec, err := p.Next()
	require.Nil(t, rec)
	var castErr *types.CastError
	require.ErrorAs(t, err, &castErr)
	require.Equal(t, 1, castErr.Field)
	require.Equal(t, "x", castErr.Raw)
	require.Contains(t, err.Error(), "offset 0")

	rec, err = p.Next()
	require.NoError(t, err)
	require.Equal(t, types.Record{int32(2), int32(3)}, rec)
}

func TestRangeScanProducer_Lifecycle(t *testing.T) {
	p := NewRangeScanProducer(newOpener(), split(0, 18), ',', nil, nil)

	_, err := p.Next()
	require.ErrorIs(t, err, types.ErrNotInitialized)
	_, err = p.HasNext()
	require.ErrorIs(t, err, types.ErrNotInitialized)

	require.NoError(t, p.Initialize(context.Background()))
	require.ErrorIs(t, p.Initialize(context.Background()), types.ErrAlreadyInitialized)

	require.NoError(t, p.Dispose())
	_, err = p.Next()
	require.ErrorIs(t, err, types.ErrDisposed)
	_, err = p.HasNext()
	require.ErrorIs(t, err, types.ErrDisposed)
	require.ErrorIs(t, p.Initialize(context.Background()), types.ErrDisposed)
}

func TestRangeScanProducer_DisposeIsIdempotent(t *testing.T) {
	opener := newOpener()
	p := NewRangeScanProducer(opener, split(7, 18), ',', nil, nil)
	require.NoError(t, p.Initialize(context.Background()))

	require.NoError(t, p.Dispose())
	require.NoError(t, p.Dispose())
	require.Equal(t, 1, opener.closes)

	never := NewRangeScanProducer(opener, split(0, 18), ',', nil, nil)
	require.NoError(t, never.Dispose())
	require.Equal(t, 1, opener.closes)
}

func TestRangeScanProducer_OpenFailure(t *testing.T) {
	s := types.Split{Location: types.Location{Path: "missing.csv"}, EndOffset: 10}
	p := NewRangeScanProducer(newOpener(), s, ',', nil, nil)

	err := p.Initialize(context.Background())
	require.ErrorIs(t, err, storage.ErrOpen)
	require.NoError(t, p.Dispose())
}

func TestRangeScanProducer_EmptyAndOversizedRanges(t *testing.T) {
	ctx := context.Background()

	empty := NewRangeScanProducer(newOpener(), split(5, 5), ',', nil, nil)
	require.NoError(t, empty.Initialize(ctx))
	ok, err := empty.HasNext()
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, drain(t, empty))
	require.NoError(t, empty.Dispose())

	inverted := NewRangeScanProducer(newOpener(), split(10, 3), ',', nil, nil)
	require.NoError(t, inverted.Initialize(ctx))
	require.Empty(t, drain(t, inverted))
	require.NoError(t, inverted.Dispose())

	beyond := NewRangeScanProducer(newOpener(), split(0, 1<<20), ',', nil, nil)
	require.NoError(t, beyond.Initialize(ctx))
	require.Len(t, drain(t, beyond), 3)
	require.NoError(t, beyond.Dispose())
}

func TestRangeScanProducer_BoundaryExactnessOverLocalFile(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString(strings.Repeat("v", i%7))
		b.WriteString(",")
		b.WriteString(strings.Repeat("w", i%5))
		b.WriteString("\n")
	}
	content := b.String()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	router := storage.NewRouter()
	ctx := context.Background()
	n := int64(len(content))
	scanRange := func(host string, start, end int64) []types.Record {
		p := NewRangeScanProducer(router, types.Split{
			Location:    types.Location{Host: host, Path: path},
			StartOffset: start,
			EndOffset:   end,
		}, ',', nil, nil)
		require.NoError(t, p.Initialize(ctx))
		defer p.Dispose()
		return drain(t, p)
	}

	for _, host := range []string{"file://", "mmap://"} {
		whole := scanRange(host, 0, n)
		require.Len(t, whole, 200)
		for k := int64(0); k <= n; k += 13 {
			got := append(scanRange(host, 0, k), scanRange(host, k, n)...)
			require.Equal(t, whole, got, "%s split at %d", host, k)
		}
	}
}

type failingSeekOpener struct{ memOpener }

type noSeek struct{ memStream }

func (noSeek) Seek(int64, int) (int64, error) { return 0, errors.New("seek unsupported") }

func (f *failingSeekOpener) Open(ctx context.Context, loc types.Location) (storage.Stream, error) {
	s, err := f.memOpener.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	return noSeek{s.(memStream)}, nil
}

func TestRangeScanProducer_SeekFailureClosesStream(t *testing.T) {
	opener := &failingSeekOpener{memOpener: *newOpener()}
	p := NewRangeScanProducer(opener, split(7, 18), ',', nil, nil)

	err := p.Initialize(context.Background())
	require.ErrorIs(t, err, storage.ErrOpen)
	require.Equal(t, 1, opener.closes)
}

func TestRangeScanProducer_HeaderSkippedBeforeCast(t *testing.T) {
	opener := &memOpener{files: map[string]string{"sample.csv": "id,score\n1,2.5\n2,4\n"}}
	schema := []types.FieldType{types.TypeLong, types.TypeDouble}
	ctx := context.Background()

	first := NewRangeScanProducer(opener, split(0, 12), ',', nil, schema, WithHeader())
	require.NoError(t, first.Initialize(ctx))
	require.Equal(t, []types.Record{{int64(1), 2.5}}, drain(t, first))
	require.NoError(t, first.Dispose())

	second := NewRangeScanProducer(opener, split(12, 20), ',', nil, schema, WithHeader())
	require.NoError(t, second.Initialize(ctx))
	require.Equal(t, []types.Record{{int64(2), 4.0}}, drain(t, second))
	require.NoError(t, second.Dispose())
}

// failingReadStream serves left bytes and then fails every read.
type failingReadStream struct {
	memStream
	left int
}

func (s *failingReadStream) Read(p []byte) (int, error) {
	if s.left <= 0 {
		return 0, errors.New("transient")
	}
	if len(p) > s.left {
		p = p[:s.left]
	}
	n, err := s.memStream.Read(p)
	s.left -= n
	return n, err
}

type failingReadOpener struct {
	memOpener
	after int
}

func (f *failingReadOpener) Open(ctx context.Context, loc types.Location) (storage.Stream, error) {
	s, err := f.memOpener.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	return &failingReadStream{memStream: s.(memStream), left: f.after}, nil
}

func TestRangeScanProducer_FailedSkipClosesStream(t *testing.T) {
	opener := &failingReadOpener{memOpener: *newOpener(), after: 2}
	p := NewRangeScanProducer(opener, split(7, 18), ',', nil, nil)

	err := p.Initialize(context.Background())
	require.ErrorIs(t, err, parser.ErrRead)
	require.Equal(t, 1, opener.closes)

	_, err = p.Next()
	require.ErrorIs(t, err, types.ErrDisposed)
	require.NoError(t, p.Dispose())
	require.Equal(t, 1, opener.closes)
}

func TestRangeScanProducer_NextAfterReadFailureKeepsFailing(t *testing.T) {
	opener := &failingReadOpener{memOpener: *newOpener(), after: 8}
	p := NewRangeScanProducer(opener, split(0, 18), ',', nil, nil)
	require.NoError(t, p.Initialize(context.Background()))
	defer p.Dispose()

	rec, err := p.Next()
	require.NoError(t, err)
	require.Equal(t, types.Record{"a", "b", "c"}, rec)

	for i := 0; i < 3; i++ {
		rec, err = p.Next()
		require.ErrorIs(t, err, parser.ErrRead)
		require.Nil(t, rec)
	}
}

func TestRangeScanProducer_ByteOrderMarkAtFileStart(t *testing.T) {
	content := "\xEF\xBB\xBF1,2\n3,4\n"
	n := int64(len(content))
	opener := &memOpener{files: map[string]string{"sample.csv": content}}
	schema := []types.FieldType{types.TypeLong, types.TypeLong}

	scanRange := func(start, end int64) []types.Record {
		p := NewRangeScanProducer(opener, split(start, end), ',', nil, schema)
		require.NoError(t, p.Initialize(context.Background()))
		defer p.Dispose()
		return drain(t, p)
	}

	want := []types.Record{{int64(1), int64(2)}, {int64(3), int64(4)}}
	require.Equal(t, want, scanRange(0, n))
	for k := int64(0); k <= n; k++ {
		got := append(scanRange(0, k), scanRange(k, n)...)
		require.Equal(t, want, got, "split at %d", k)
	}
}
