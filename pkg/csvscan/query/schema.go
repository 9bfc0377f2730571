package query

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// Schema is the column sidecar stored next to a local CSV file as
// <name>_schema.json.
type Schema struct {
	Columns []types.Column `json:"columns"`
	path    string
	mu      sync.Mutex
}

// LoadSchema reads the sidecar of csvPath. A missing sidecar yields an empty
// schema.
func LoadSchema(csvPath string) (*Schema, error) {
	s := &Schema{path: getSchemaPath(csvPath)}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return s, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", s.path, err)
	}
	return s, nil
}

func (s *Schema) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

func getSchemaPath(csvPath string) string {
	dir := filepath.Dir(csvPath)
	base := filepath.Base(csvPath)
	return filepath.Join(dir, base+"_schema.json")
}

// OutputNames returns the lower-case names of the fields a scan emits: the
// projected source columns, or every column. Fields without a declared column
// are named c<source index>.
func OutputNames(columns []types.Column, projection []int, width int) []string {
	name := func(i int) string {
		if i < len(columns) && columns[i].Name != "" {
			return strings.ToLower(columns[i].Name)
		}
		return fmt.Sprintf("c%d", i)
	}

	if projection != nil {
		out := make([]string, len(projection))
		for j, i := range projection {
			out[j] = name(i)
		}
		return out
	}
	if width < len(columns) {
		width = len(columns)
	}
	out := make([]string, width)
	for i := range out {
		out[i] = name(i)
	}
	return out
}
