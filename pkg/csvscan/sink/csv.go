package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// CSVSink appends records to a delimited file. The file stays exclusively
// locked until Close.
type CSVSink struct {
	file *os.File
	w    *csv.Writer
	row  []string
}

// NewCSVSink opens path for appending. A new file gets headers as its first
// line; an existing one must already start with the same headers.
func NewCSVSink(path string, separator byte, headers []string) (*CSVSink, error) {
	if separator == 0 {
		separator = types.DefaultSeparator
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	if err := lockFile(file); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to lock file: %w", err)
	}

	s := &CSVSink{file: file, w: csv.NewWriter(file)}
	s.w.Comma = rune(separator)
	if err := s.checkHeaders(separator, headers); err != nil {
		_ = unlockFile(file)
		file.Close()
		return nil, err
	}
	return s, nil
}

func (s *CSVSink) checkHeaders(separator byte, headers []string) error {
	stat, err := s.file.Stat()
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		return nil
	}
	if stat.Size() == 0 {
		return s.w.Write(headers)
	}

	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	reader := csv.NewReader(s.file)
	reader.Comma = rune(separator)
	existing, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read existing headers: %w", err)
	}
	if !slices.Equal(existing, headers) {
		return fmt.Errorf("header mismatch. File: %v, New: %v", existing, headers)
	}
	return nil
}

func (s *CSVSink) Write(_ int, _ int64, rec types.Record) error {
	s.row = s.row[:0]
	for _, v := range rec {
		s.row = append(s.row, types.FormatValue(v))
	}
	return s.w.Write(s.row)
}

func (s *CSVSink) Close() error {
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	err := s.w.Error()
	if uerr := unlockFile(s.file); err == nil {
		err = uerr
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.file = nil
	return err
}
