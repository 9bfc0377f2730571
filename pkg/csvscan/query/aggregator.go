package query

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var aggFuncs = map[string]bool{"": true, "count": true, "sum": true, "min": true, "max": true, "avg": true}

// StreamAggregator is a stateful aggregator for streaming processing
type StreamAggregator struct {
	aggFunc string
	results map[string]float64
	counts  map[string]int64
}

func NewStreamAggregator(aggFunc string) (*StreamAggregator, error) {
	aggFunc = strings.ToLower(aggFunc)
	if !aggFuncs[aggFunc] {
		return nil, fmt.Errorf("unknown aggregate function: %s", aggFunc)
	}
	return &StreamAggregator{
		aggFunc: aggFunc,
		results: make(map[string]float64),
		counts:  make(map[string]int64),
	}, nil
}

func (sa *StreamAggregator) Add(groupVal string, val float64) {
	switch sa.aggFunc {
	case "count":
		sa.results[groupVal]++
	case "sum":
		sa.results[groupVal] += val
	case "min":
		if curr, ok := sa.results[groupVal]; !ok || val < curr {
			sa.results[groupVal] = val
		}
	case "max":
		if curr, ok := sa.results[groupVal]; !ok || val > curr {
			sa.results[groupVal] = val
		}
	case "avg":
		sa.results[groupVal] += val
		sa.counts[groupVal]++
	case "":
		sa.results[groupVal] = 1
	}
}

// Results returns the finished aggregates by group.
func (sa *StreamAggregator) Results() map[string]float64 {
	out := make(map[string]float64, len(sa.results))
	for k, v := range sa.results {
		if sa.aggFunc == "avg" {
			if c := sa.counts[k]; c > 0 {
				v = v / float64(c)
			}
		}
		out[k] = v
	}
	return out
}

func (sa *StreamAggregator) Finalize(writer io.Writer) error {
	return json.NewEncoder(writer).Encode(sa.Results())
}

// toFloat reads a numeric value out of a typed or raw field.
func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("value %v of type %T is not numeric", v, v)
}
