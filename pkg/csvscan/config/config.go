package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/iamhimansu/csvscan/pkg/csvscan/query"
	"github.com/iamhimansu/csvscan/pkg/csvscan/sink"
	"github.com/iamhimansu/csvscan/pkg/csvscan/storage"
	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

const (
	ActionScan   = "scan"
	ActionCount  = "count"
	ActionPlan   = "plan"
	ActionVerify = "verify"
	ActionCat    = "cat"
)

const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatBlock = "block"
)

var ErrInvalid = errors.New("invalid job")

// Output selects where scanned records go. An empty path means stdout.
type Output struct {
	Format string `json:"format" yaml:"format"`
	Path   string `json:"path" yaml:"path"`
	Codec  string `json:"codec" yaml:"codec"`
}

// Job is one scan request, read either from a YAML file or from a JSON
// request.
type Job struct {
	Action      string           `json:"action" yaml:"action"`
	Input       string           `json:"csv" yaml:"input"`
	Separator   string           `json:"sep" yaml:"separator"`
	SplitSize   int64            `json:"splitSize" yaml:"split_size"`
	NumSplits   int              `json:"splits" yaml:"num_splits"`
	Hosts       []string         `json:"hosts" yaml:"hosts"`
	Columns     []types.Column   `json:"columns" yaml:"columns"`
	Projection  []int            `json:"projection" yaml:"projection"`
	Typed       bool             `json:"typed" yaml:"typed"`
	SkipHeader  bool             `json:"header" yaml:"skip_header"`
	TrimCR      bool             `json:"trimCR" yaml:"trim_cr"`
	Workers     int              `json:"workers" yaml:"workers"`
	Where       interface{}      `json:"where" yaml:"where"`
	GroupBy     string           `json:"groupBy" yaml:"group_by"`
	AggCol      string           `json:"aggCol" yaml:"agg_col"`
	AggFunc     string           `json:"aggFunc" yaml:"agg_func"`
	Limit       int              `json:"limit" yaml:"limit"`
	Output      Output           `json:"output" yaml:"output"`
	S3          storage.S3Config `json:"s3" yaml:"s3"`
	MetricsAddr string           `json:"metricsAddr" yaml:"metrics_addr"`
}

// Load reads and validates a YAML job file. Unknown keys are rejected.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var job Job
	if err := dec.Decode(&job); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

// FromJSON decodes and validates a JSON request.
func FromJSON(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("invalid JSON request: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (j *Job) Validate() error {
	switch j.Action {
	case "":
		j.Action = ActionScan
	case ActionScan, ActionCount, ActionPlan, ActionVerify, ActionCat:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalid, j.Action)
	}
	if j.Input == "" {
		return fmt.Errorf("%w: input required", ErrInvalid)
	}
	if len(j.Separator) > 1 {
		return fmt.Errorf("%w: separator must be a single byte, got %q", ErrInvalid, j.Separator)
	}
	if j.SplitSize < 0 || j.NumSplits < 0 {
		return fmt.Errorf("%w: split size and count must not be negative", ErrInvalid)
	}
	if j.SplitSize > 0 && j.NumSplits > 0 {
		return fmt.Errorf("%w: set either split_size or num_splits", ErrInvalid)
	}
	if j.Workers < 0 || j.Limit < 0 {
		return fmt.Errorf("%w: workers and limit must not be negative", ErrInvalid)
	}
	for _, i := range j.Projection {
		if i < 0 {
			return fmt.Errorf("%w: negative projection index %d", ErrInvalid, i)
		}
	}
	if j.Typed && len(j.Columns) == 0 {
		return fmt.Errorf("%w: typed scan needs columns", ErrInvalid)
	}
	for i, c := range j.Columns {
		ft, err := types.ParseFieldType(string(c.Type))
		if err != nil {
			return fmt.Errorf("%w: column %q: %w", ErrInvalid, c.Name, err)
		}
		j.Columns[i].Type = ft
	}

	switch j.Output.Format {
	case "":
		j.Output.Format = FormatJSON
	case FormatJSON, FormatCSV:
	case FormatBlock:
		if j.Output.Path == "" {
			return fmt.Errorf("%w: block output needs a path", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown output format %q", ErrInvalid, j.Output.Format)
	}
	if _, err := sink.ParseCodec(j.Output.Codec); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := j.Condition(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// Condition parses the where clause. A nil result means no filter.
func (j *Job) Condition() (*types.Condition, error) {
	if j.Where == nil {
		return nil, nil
	}
	data, err := json.Marshal(j.Where)
	if err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	return query.ParseCondition(data)
}

// ScanConfig resolves the input location and builds the executor config.
func (j *Job) ScanConfig() (types.ScanConfig, error) {
	loc, err := storage.ParseLocation(j.Input)
	if err != nil {
		return types.ScanConfig{}, err
	}
	sep := byte(types.DefaultSeparator)
	if j.Separator != "" {
		sep = j.Separator[0]
	}
	return types.ScanConfig{
		Location:   loc,
		Separator:  sep,
		SplitSize:  j.SplitSize,
		NumSplits:  j.NumSplits,
		Hosts:      j.Hosts,
		Columns:    j.Columns,
		Projection: j.Projection,
		Typed:      j.Typed,
		SkipHeader: j.SkipHeader,
		TrimCR:     j.TrimCR,
		Workers:    j.Workers,
		GroupBy:    j.GroupBy,
		AggCol:     j.AggCol,
		AggFunc:    j.AggFunc,
		Limit:      j.Limit,
	}, nil
}
