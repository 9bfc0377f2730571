package types

import (
	"fmt"
	"strings"
)

// Location names a file inside a store. Host is a URI identifying the store
// (file://, mmap://, s3://bucket) and Path the object within it.
type Location struct {
	Host string `json:"host" yaml:"host"`
	Path string `json:"path" yaml:"path"`
}

func (l Location) String() string {
	if l.Host == "" {
		return l.Path
	}
	return strings.TrimSuffix(l.Host, "/") + "/" + strings.TrimPrefix(l.Path, "/")
}

// Split is a half-open byte range [StartOffset, EndOffset) of one file.
type Split struct {
	Location    Location `json:"location"`
	StartOffset int64    `json:"startOffset"`
	EndOffset   int64    `json:"endOffset"`
	Hosts       []string `json:"hosts,omitempty"`
}

// Length returns the byte budget of the split. It is never negative.
func (s Split) Length() int64 {
	if s.EndOffset <= s.StartOffset {
		return 0
	}
	return s.EndOffset - s.StartOffset
}

func (s Split) String() string {
	return fmt.Sprintf("%s[%d,%d)", s.Location, s.StartOffset, s.EndOffset)
}

// Value is a single typed field. Without a schema every Value is a string.
type Value = any

// Record is one decoded line, in projection order.
type Record []Value

// Strings renders every value with its text form.
func (r Record) Strings() []string {
	out := make([]string, len(r))
	for i, v := range r {
		out[i] = FormatValue(v)
	}
	return out
}

// Column names a source field and its declared type.
type Column struct {
	Name string    `json:"name" yaml:"name"`
	Type FieldType `json:"type" yaml:"type"`
}

// FilterOp represents a comparison operator
type FilterOp string

const (
	OpAnd       FilterOp = "AND"
	OpOr        FilterOp = "OR"
	OpEq        FilterOp = "="
	OpNeq       FilterOp = "!="
	OpGt        FilterOp = ">"
	OpLt        FilterOp = "<"
	OpGte       FilterOp = ">="
	OpLte       FilterOp = "<="
	OpLike      FilterOp = "LIKE"
	OpIsNull    FilterOp = "IS NULL"
	OpIsNotNull FilterOp = "IS NOT NULL"
	OpIn        FilterOp = "IN"
)

// Condition represents a node in the filter tree
type Condition struct {
	Operator       FilterOp    `json:"operator" yaml:"operator"`
	Column         string      `json:"column,omitempty" yaml:"column,omitempty"`
	Value          interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	Children       []Condition `json:"children,omitempty" yaml:"children,omitempty"`
	ResolvedTarget string      `json:"-" yaml:"-"`
}

// ScanConfig holds everything needed to scan one file.
type ScanConfig struct {
	Location   Location
	Separator  byte
	SplitSize  int64
	NumSplits  int
	Hosts      []string
	Columns    []Column
	Projection []int
	Typed      bool
	SkipHeader bool
	TrimCR     bool
	Workers    int
	GroupBy    string
	AggCol     string
	AggFunc    string
	Limit      int
}

// Schema returns the field types of the configured columns, or nil when the
// scan is untyped.
func (c ScanConfig) Schema() []FieldType {
	if !c.Typed || len(c.Columns) == 0 {
		return nil
	}
	out := make([]FieldType, len(c.Columns))
	for i, col := range c.Columns {
		out[i] = col.Type
	}
	return out
}

// ScanStats summarises a finished scan.
type ScanStats struct {
	Splits        int    `json:"splits"`
	Records       int64  `json:"records"`
	BytesRead     int64  `json:"bytesRead"`
	ExecutionTime string `json:"execution_time"`
}

// ScanResult represents the response to a scan request
type ScanResult struct {
	Status string      `json:"status"`
	Count  int64       `json:"count,omitempty"`
	Splits []Split     `json:"splits,omitempty"`
	Groups interface{} `json:"groups,omitempty"`
	Digest string      `json:"digest,omitempty"`
	Error  string      `json:"error,omitempty"`
	Stats  *ScanStats  `json:"stats,omitempty"`
}
