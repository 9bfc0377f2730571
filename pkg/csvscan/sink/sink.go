package sink

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// Sink consumes scanned records. Write has the shape of a query.RecordHandler
// so a sink can be handed to the executor directly.
type Sink interface {
	Write(split int, offset int64, rec types.Record) error
	Close() error
}

// JSONLinesSink writes one JSON array per record.
type JSONLinesSink struct {
	bw  *bufio.Writer
	enc *json.Encoder
}

func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	bw := bufio.NewWriterSize(w, types.DefaultBufferSize)
	return &JSONLinesSink{bw: bw, enc: json.NewEncoder(bw)}
}

func (s *JSONLinesSink) Write(_ int, _ int64, rec types.Record) error {
	return s.enc.Encode(rec)
}

// Close flushes buffered output. The underlying writer is left open.
func (s *JSONLinesSink) Close() error {
	return s.bw.Flush()
}
