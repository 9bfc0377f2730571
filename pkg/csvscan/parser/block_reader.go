package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

var (
	// ErrRead wraps every failure of the underlying stream.
	ErrRead = errors.New("read failure")

	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("block reader closed")
)

var bufReaderPool = sync.Pool{
	New: func() interface{} {
		return bufio.NewReaderSize(nil, types.DefaultBufferSize)
	},
}

// Option configures a BlockReader.
type Option func(*BlockReader)

// WithSeparator sets the field separator.
func WithSeparator(sep byte) Option {
	return func(r *BlockReader) {
		r.separator = string([]byte{sep})
	}
}

// WithBufferSize sets the initial read buffer size. Records longer than the
// buffer are still reassembled.
func WithBufferSize(n int) Option {
	return func(r *BlockReader) {
		if n > 0 {
			r.bufSize = n
		}
	}
}

// WithTrimCR drops a trailing '\r' from every record.
func WithTrimCR(trim bool) Option {
	return func(r *BlockReader) {
		r.trimCR = trim
	}
}

// WithStripBOM drops a UTF-8 byte order mark from the front of the record
// that starts the range. Set it only for a range that starts at byte 0 of a
// file. The mark stays part of that record for ownership purposes.
func WithStripBOM(strip bool) Option {
	return func(r *BlockReader) {
		r.stripBOM = strip
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// BlockReader reads newline-terminated records from a stream that is already
// positioned at the start of a byte range of rangeLength bytes.
//
// A record is returned when it starts at relative position <= rangeLength.
// The record that crosses the end of the range is read to its line break,
// after which the reader reports io.EOF even if the stream has more bytes.
// Combined with skipping the first record of every range that does not start
// at byte 0, each record belongs to exactly one range.
//
// A read failure is sticky: every later call returns the same error, so a
// partially consumed record is never returned as data.
//
// A BlockReader is not safe for concurrent use.
type BlockReader struct {
	src       io.Reader
	br        *bufio.Reader
	pooled    bool
	bufSize   int
	separator string
	trimCR    bool
	stripBOM  bool

	budget    int64
	consumed  int64
	lastStart int64
	line      []byte
	exhausted bool
	closed    bool
	err       error
}

// NewBlockReader wraps r. r is closed by Close when it implements io.Closer.
func NewBlockReader(r io.Reader, rangeLength int64, opts ...Option) *BlockReader {
	br := &BlockReader{
		src:       r,
		bufSize:   types.DefaultBufferSize,
		separator: string([]byte{types.DefaultSeparator}),
		budget:    rangeLength,
		lastStart: -1,
	}
	for _, opt := range opts {
		opt(br)
	}

	if br.bufSize == types.DefaultBufferSize {
		br.br = bufReaderPool.Get().(*bufio.Reader)
		br.br.Reset(r)
		br.pooled = true
	} else {
		br.br = bufio.NewReaderSize(r, br.bufSize)
	}

	if rangeLength <= 0 {
		br.exhausted = true
	}
	return br
}

// HasNext reports whether ReadLine will return a record. It may block to peek
// at the stream.
func (r *BlockReader) HasNext() (bool, error) {
	if r.closed {
		return false, ErrClosed
	}
	if r.err != nil {
		return false, r.err
	}
	if r.exhausted {
		return false, nil
	}
	if r.consumed > r.budget {
		r.exhausted = true
		return false, nil
	}
	if _, err := r.br.Peek(1); err != nil {
		if err == io.EOF {
			r.exhausted = true
			return false, nil
		}
		r.err = fmt.Errorf("%w: %w", ErrRead, err)
		return false, r.err
	}
	return true, nil
}

// ReadLine returns the fields of the next record, or io.EOF when the range
// holds no more records.
func (r *BlockReader) ReadLine() ([]string, error) {
	line, err := r.readRecord()
	if err != nil {
		return nil, err
	}
	return strings.Split(string(line), r.separator), nil
}

// SkipRecord consumes the next record without splitting it. It returns
// io.EOF when there was nothing to skip.
func (r *BlockReader) SkipRecord() error {
	_, err := r.readRecord()
	return err
}

func (r *BlockReader) readRecord() ([]byte, error) {
	ok, err := r.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, io.EOF
	}

	r.lastStart = r.consumed
	r.line = r.line[:0]
	for {
		chunk, err := r.br.ReadSlice(types.RecordDelimiter)
		r.consumed += int64(len(chunk))
		if err == nil {
			r.line = append(r.line, chunk[:len(chunk)-1]...)
			break
		}
		r.line = append(r.line, chunk...)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			r.exhausted = true
			break
		}
		r.err = fmt.Errorf("%w: %w", ErrRead, err)
		return nil, r.err
	}

	if r.consumed > r.budget {
		r.exhausted = true
	}
	if r.stripBOM && r.lastStart == 0 {
		r.line = bytes.TrimPrefix(r.line, utf8BOM)
	}
	if r.trimCR {
		r.line = bytes.TrimSuffix(r.line, []byte{'\r'})
	}
	return r.line, nil
}

// BytesConsumed returns how many bytes of the stream have been consumed,
// including a skipped leading record and any boundary overflow.
func (r *BlockReader) BytesConsumed() int64 {
	return r.consumed
}

// LastRecordOffset returns the position, relative to the start of the range,
// of the record most recently read. It is -1 before the first read.
func (r *BlockReader) LastRecordOffset() int64 {
	return r.lastStart
}

// Close releases the buffer and closes the stream. It is idempotent.
func (r *BlockReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.exhausted = true
	r.line = nil

	if r.pooled {
		r.br.Reset(nil)
		bufReaderPool.Put(r.br)
	}
	r.br = nil

	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
