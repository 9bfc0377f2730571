package scan

import (
	"context"
	"fmt"
	"io"

	"github.com/iamhimansu/csvscan/pkg/csvscan/parser"
	"github.com/iamhimansu/csvscan/pkg/csvscan/storage"
	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
	"github.com/iamhimansu/csvscan/pkg/csvscan/utils"
)

type producerState int

const (
	stateCreated producerState = iota
	stateInitialized
	stateDisposed
)

// ProducerOption configures a RangeScanProducer.
type ProducerOption func(*RangeScanProducer)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(l utils.Logger) ProducerOption {
	return func(p *RangeScanProducer) {
		p.logger = l
	}
}

// WithReaderOptions passes extra options to the underlying BlockReader.
func WithReaderOptions(opts ...parser.Option) ProducerOption {
	return func(p *RangeScanProducer) {
		p.readerOpts = append(p.readerOpts, opts...)
	}
}

// WithHeader marks the first line of the file as a header. The split that
// starts at byte 0 drops it before any casting happens.
func WithHeader() ProducerOption {
	return func(p *RangeScanProducer) {
		p.header = true
	}
}

// RangeScanProducer produces the records owned by one split of a delimited
// text file. A split that does not start at byte 0 drops its first record,
// which the previous split reads by overflowing its own end offset.
type RangeScanProducer struct {
	opener     storage.Opener
	split      types.Split
	separator  byte
	projection []int
	schema     []types.FieldType
	readerOpts []parser.Option
	header     bool
	logger     utils.Logger

	reader     parser.RecordReader
	state      producerState
	lastOffset int64
}

var _ Producer = (*RangeScanProducer)(nil)

// NewRangeScanProducer configures a producer. Nothing is opened until
// Initialize. projection and schema may be nil; schema is indexed by source
// field position.
func NewRangeScanProducer(opener storage.Opener, split types.Split, separator byte, projection []int, schema []types.FieldType, opts ...ProducerOption) *RangeScanProducer {
	p := &RangeScanProducer{
		opener:     opener,
		split:      split,
		separator:  separator,
		projection: projection,
		schema:     schema,
		logger:     utils.NopLogger{},
		lastOffset: -1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Split returns the byte range this producer scans.
func (p *RangeScanProducer) Split() types.Split {
	return p.split
}

func (p *RangeScanProducer) Initialize(ctx context.Context) error {
	switch p.state {
	case stateInitialized:
		return types.ErrAlreadyInitialized
	case stateDisposed:
		return types.ErrDisposed
	}

	stream, err := p.opener.Open(ctx, p.split.Location)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", p.split, err)
	}
	if _, err := stream.Seek(p.split.StartOffset, io.SeekStart); err != nil {
		stream.Close()
		return fmt.Errorf("%w: seek %s: %w", storage.ErrOpen, p.split, err)
	}

	opts := append([]parser.Option{
		parser.WithSeparator(p.separator),
		parser.WithStripBOM(p.split.StartOffset == 0),
	}, p.readerOpts...)
	p.reader = parser.NewBlockReader(stream, p.split.Length(), opts...)
	p.state = stateInitialized

	if p.split.StartOffset > 0 || p.header {
		if err := p.reader.SkipRecord(); err != nil && err != io.EOF {
			p.reader.Close()
			p.state = stateDisposed
			return fmt.Errorf("skip leading record of %s: %w", p.split, err)
		}
		p.logger.Debug("skipped %d leading bytes of %s", p.reader.BytesConsumed(), p.split)
	}
	return nil
}

func (p *RangeScanProducer) ready() error {
	switch p.state {
	case stateCreated:
		return types.ErrNotInitialized
	case stateDisposed:
		return types.ErrDisposed
	}
	return nil
}

func (p *RangeScanProducer) HasNext() (bool, error) {
	if err := p.ready(); err != nil {
		return false, err
	}
	return p.reader.HasNext()
}

// Next returns the next record, or io.EOF at the end of the split. A field
// that does not parse as its declared type yields a *types.CastError.
func (p *RangeScanProducer) Next() (types.Record, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	fields, err := p.reader.ReadLine()
	if err != nil {
		return nil, err
	}
	p.lastOffset = p.split.StartOffset + p.reader.LastRecordOffset()

	rec, err := types.CastFields(fields, p.projection, p.schema)
	if err != nil {
		return nil, fmt.Errorf("record at offset %d: %w", p.lastOffset, err)
	}
	return rec, nil
}

// Offset returns the absolute file offset of the record last returned by
// Next, or -1 before the first record.
func (p *RangeScanProducer) Offset() int64 {
	return p.lastOffset
}

// BytesRead returns the number of bytes consumed from the stream so far.
func (p *RangeScanProducer) BytesRead() int64 {
	if p.reader == nil {
		return 0
	}
	return p.reader.BytesConsumed()
}

// Dispose releases the reader and its stream. It is idempotent.
func (p *RangeScanProducer) Dispose() error {
	if p.state == stateDisposed {
		return nil
	}
	p.state = stateDisposed
	if p.reader == nil {
		return nil
	}
	err := p.reader.Close()
	if err != nil {
		return fmt.Errorf("dispose %s: %w", p.split, err)
	}
	return nil
}
