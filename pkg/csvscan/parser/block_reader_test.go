package parser

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

const sample = "a,b,c\nd,e,f\ng,h,i\n"

// readRange reads content[start:] the way a producer bound to [start,end) does.
func readRange(t *testing.T, content string, start, end int64, opts ...Option) [][]string {
	t.Helper()
	r := NewBlockReader(strings.NewReader(content[start:]), end-start, opts...)
	defer r.Close()

	if start > 0 {
		err := r.SkipRecord()
		if err != nil && err != io.EOF {
			t.Fatalf("skip: %v", err)
		}
	}

	var out [][]string
	for {
		fields, err := r.ReadLine()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, fields)
	}
	return out
}

func TestBlockReader_FirstSplitOverflowsIntoStraddlingRecord(t *testing.T) {
	got := readRange(t, sample, 0, 7)
	require.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e", "f"}}, got)
}

func TestBlockReader_SecondSplitSkipsLeadingFragment(t *testing.T) {
	got := readRange(t, sample, 7, 18)
	require.Equal(t, [][]string{{"g", "h", "i"}}, got)
}

func TestBlockReader_SingleSplitCompleteness(t *testing.T) {
	got := readRange(t, sample, 0, int64(len(sample)))
	require.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e", "f"}, {"g", "h", "i"}}, got)
}

func TestBlockReader_BoundaryExactnessForEverySplitPoint(t *testing.T) {
	files := []string{
		sample,
		"a,b,c\nd,e,f\ng,h,i",
		"x\n\ny\n\n\nz",
		"1\n22\n333\n4444\n55555\n",
		"\n",
		"only-one-record",
	}

	for _, content := range files {
		n := int64(len(content))
		whole := readRange(t, content, 0, n)
		for k := int64(0); k <= n; k++ {
			left := readRange(t, content, 0, k)
			right := readRange(t, content, k, n)
			require.Equal(t, whole, append(left, right...), "content %q split at %d", content, k)
		}
	}
}

func TestBlockReader_ThreeWayExactness(t *testing.T) {
	content := "aa,1\nbbb,2\nc,3\ndddd,4\ne,5\n"
	n := int64(len(content))
	whole := readRange(t, content, 0, n)
	require.Len(t, whole, 5)

	for i := int64(0); i <= n; i++ {
		for j := i; j <= n; j++ {
			var got [][]string
			got = append(got, readRange(t, content, 0, i)...)
			got = append(got, readRange(t, content, i, j)...)
			got = append(got, readRange(t, content, j, n)...)
			require.Equal(t, whole, got, "splits at %d and %d", i, j)
		}
	}
}

func TestBlockReader_SplitStartingOnRecordBoundary(t *testing.T) {
	// "d,e,f" starts at byte 6: the range ending at 6 owns it.
	require.Equal(t, [][]string{{"a", "b", "c"}, {"d", "e", "f"}}, readRange(t, sample, 0, 6))
	require.Equal(t, [][]string{{"g", "h", "i"}}, readRange(t, sample, 6, 18))
}

func TestBlockReader_EmptyLineIsOneEmptyField(t *testing.T) {
	got := readRange(t, "a\n\nb\n", 0, 5)
	require.Equal(t, [][]string{{"a"}, {""}, {"b"}}, got)
}

func TestBlockReader_PassThroughSplitsOnlyOnSeparator(t *testing.T) {
	content := "\"q,1\"| x |\ty\n"
	got := readRange(t, content, 0, int64(len(content)), WithSeparator('|'))
	require.Equal(t, [][]string{{"\"q,1\"", " x ", "\ty"}}, got)
}

func TestBlockReader_TrimCR(t *testing.T) {
	content := "a,b\r\nc,d\r\n"
	raw := readRange(t, content, 0, int64(len(content)))
	require.Equal(t, [][]string{{"a", "b\r"}, {"c", "d\r"}}, raw)

	trimmed := readRange(t, content, 0, int64(len(content)), WithTrimCR(true))
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, trimmed)
}

func TestBlockReader_RecordLongerThanBuffer(t *testing.T) {
	long := strings.Repeat("x", 100) + "," + strings.Repeat("y", 100)
	content := long + "\nshort\n"

	got := readRange(t, content, 0, int64(len(content)), WithBufferSize(16))
	require.Len(t, got, 2)
	require.Equal(t, strings.Repeat("x", 100), got[0][0])
	require.Equal(t, strings.Repeat("y", 100), got[0][1])
	require.Equal(t, []string{"short"}, got[1])

	// The long record straddles a tiny range and is still returned whole.
	got = readRange(t, content, 0, 3, WithBufferSize(16))
	require.Len(t, got, 1)
	require.Len(t, got[0][0], 100)
}

func TestBlockReader_NonPositiveRangeIsEmpty(t *testing.T) {
	for _, budget := range []int64{0, -5} {
		r := NewBlockReader(strings.NewReader(sample), budget)
		ok, err := r.HasNext()
		require.NoError(t, err)
		require.False(t, ok)

		_, err = r.ReadLine()
		require.ErrorIs(t, err, io.EOF)
		require.NoError(t, r.Close())
	}
}

func TestBlockReader_RangeBeyondEndOfStream(t *testing.T) {
	got := readRange(t, sample, 0, 1000)
	require.Len(t, got, 3)

	got = readRange(t, sample, 7, 1000)
	require.Equal(t, [][]string{{"g", "h", "i"}}, got)
}

func TestBlockReader_ExhaustedAfterOverflowIgnoresRemainingBytes(t *testing.T) {
	r := NewBlockReader(strings.NewReader(sample), 2)
	defer r.Close()

	fields, err := r.ReadLine()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, fields)
	require.Equal(t, int64(6), r.BytesConsumed())

	ok, err := r.HasNext()
	require.NoError(t, err)
	require.False(t, ok)

	_, err = r.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestBlockReader_HasNextConsistentWithReadLine(t *testing.T) {
	r := NewBlockReader(strings.NewReader(sample), int64(len(sample)))
	defer r.Close()

	count := 0
	for {
		ok, err := r.HasNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		_, err = r.ReadLine()
		require.NoError(t, err)
		count++
	}
	require.Equal(t, 3, count)

	_, err := r.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestBlockReader_LastRecordOffset(t *testing.T) {
	r := NewBlockReader(strings.NewReader(sample), int64(len(sample)))
	defer r.Close()
	require.Equal(t, int64(-1), r.LastRecordOffset())

	for _, want := range []int64{0, 6, 12} {
		_, err := r.ReadLine()
		require.NoError(t, err)
		require.Equal(t, want, r.LastRecordOffset())
	}
}

func TestBlockReader_ReadFailurePropagates(t *testing.T) {
	boom := errors.New("disk on fire")

	r := NewBlockReader(iotest.ErrReader(boom), 100)
	_, err := r.HasNext()
	require.ErrorIs(t, err, ErrRead)
	require.ErrorIs(t, err, boom)

	r = NewBlockReader(io.MultiReader(strings.NewReader("a,b"), iotest.ErrReader(boom)), 100)
	_, err = r.ReadLine()
	require.ErrorIs(t, err, ErrRead)
	require.ErrorIs(t, err, boom)
}

type closeCounter struct {
	io.Reader
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return nil
}

func TestBlockReader_CloseIsIdempotent(t *testing.T) {
	src := &closeCounter{Reader: strings.NewReader(sample)}
	r := NewBlockReader(src, int64(len(sample)))

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	require.Equal(t, 1, src.closes)

	_, err := r.ReadLine()
	require.ErrorIs(t, err, ErrClosed)
}

// flakyReader serves data but fails exactly once when it reaches failAt.
type flakyReader struct {
	data   string
	pos    int
	failAt int
	failed bool
}

func (f *flakyReader) Read(p []byte) (int, error) {
	if f.pos == f.failAt && !f.failed {
		f.failed = true
		return 0, errors.New("transient")
	}
	if f.pos >= len(f.data) {
		return 0, io.EOF
	}
	end := len(f.data)
	if f.pos < f.failAt && f.failAt < end {
		end = f.failAt
	}
	n := copy(p, f.data[f.pos:end])
	f.pos += n
	return n, nil
}

func TestBlockReader_ReadFailureIsSticky(t *testing.T) {
	r := NewBlockReader(&flakyReader{data: sample, failAt: 8}, int64(len(sample)))
	defer r.Close()

	fields, err := r.ReadLine()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, fields)

	_, first := r.ReadLine()
	require.ErrorIs(t, first, ErrRead)

	// the stream would now serve "e,f\n"; the reader must not resume mid-record
	for i := 0; i < 3; i++ {
		fields, err := r.ReadLine()
		require.Nil(t, fields)
		require.Equal(t, first, err)

		ok, err := r.HasNext()
		require.False(t, ok)
		require.Equal(t, first, err)

		require.Equal(t, first, r.SkipRecord())
	}
}

func TestBlockReader_StripBOMOnlyFromFirstRecord(t *testing.T) {
	content := "\xEF\xBB\xBFa,b\n\xEF\xBB\xBFc,d\n"

	kept := readRange(t, content, 0, int64(len(content)))
	require.Equal(t, [][]string{{"\xEF\xBB\xBFa", "b"}, {"\xEF\xBB\xBFc", "d"}}, kept)

	stripped := readRange(t, content, 0, int64(len(content)), WithStripBOM(true))
	require.Equal(t, [][]string{{"a", "b"}, {"\xEF\xBB\xBFc", "d"}}, stripped)

	// the mark still belongs to the first record when a split ends inside it
	for k := int64(1); k <= int64(len(content)); k++ {
		got := append(readRange(t, content, 0, k, WithStripBOM(true)), readRange(t, content, k, int64(len(content)))...)
		require.Equal(t, stripped, got, "split at %d", k)
	}
}
