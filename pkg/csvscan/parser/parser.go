package parser

import "io"

// RecordReader defines the interface for reading delimited records out of a
// byte range.
type RecordReader interface {
	io.Closer

	// HasNext reports whether ReadLine will return a record.
	HasNext() (bool, error)

	// ReadLine returns the raw fields of the next record, or io.EOF.
	ReadLine() ([]string, error)

	// SkipRecord consumes one record without splitting it.
	SkipRecord() error

	// BytesConsumed returns how many bytes have been read from the stream.
	BytesConsumed() int64

	// LastRecordOffset returns the range-relative start of the last record.
	LastRecordOffset() int64
}

var _ RecordReader = (*BlockReader)(nil)
