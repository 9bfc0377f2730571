package storage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadHeader returns the fields of the first line of loc, split on separator.
// A leading UTF-8 byte order mark and a trailing \r are dropped.
func ReadHeader(ctx context.Context, o Opener, loc types.Location, separator byte) ([]string, error) {
	s, err := o.Open(ctx, loc)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	line, err := bufio.NewReaderSize(s, types.DefaultBufferSize).ReadBytes(types.RecordDelimiter)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read header of %s: %w", loc, err)
	}
	line = bytes.TrimSuffix(line, []byte{types.RecordDelimiter})
	line = bytes.TrimSuffix(line, []byte{'\r'})
	line = bytes.TrimPrefix(line, utf8BOM)
	if len(line) == 0 {
		return nil, fmt.Errorf("empty header in %s", loc)
	}
	return strings.Split(string(line), string(separator)), nil
}
