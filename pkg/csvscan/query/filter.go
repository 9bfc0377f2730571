package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
)

// ParseCondition accepts either a flat {"column": value} object, read as an
// AND of equalities, or a full condition tree. Empty input means no filter.
func ParseCondition(data []byte) (*types.Condition, error) {
	if len(data) == 0 || string(data) == "{}" || string(data) == "[]" || string(data) == "null" {
		return nil, nil
	}
	var simpleMap map[string]interface{}
	if err := json.Unmarshal(data, &simpleMap); err == nil && len(simpleMap) > 0 {
		_, hasOp := simpleMap["operator"]
		if !hasOp {
			root := &types.Condition{
				Operator: types.OpAnd,
				Children: make([]types.Condition, 0, len(simpleMap)),
			}
			for col, val := range simpleMap {
				root.Children = append(root.Children, types.Condition{
					Operator: types.OpEq,
					Column:   strings.ToLower(col),
					Value:    fmt.Sprintf("%v", val),
				})
			}
			ResolveTargets(root)
			return root, nil
		}
	}

	var complexCond types.Condition
	if err := json.Unmarshal(data, &complexCond); err == nil {
		if complexCond.Operator != "" {
			ResolveTargets(&complexCond)
			return &complexCond, nil
		}
	}
	return nil, fmt.Errorf("invalid where format")
}

// ResolveTargets normalises column names and pre-renders comparison targets.
func ResolveTargets(c *types.Condition) {
	c.Operator = types.FilterOp(strings.ToUpper(string(c.Operator)))
	c.Column = strings.ToLower(c.Column)
	if c.Value != nil {
		c.ResolvedTarget = fmt.Sprintf("%v", c.Value)
	}
	for i := range c.Children {
		ResolveTargets(&c.Children[i])
	}
}

// Columns lists the column names a condition reads.
func Columns(c *types.Condition) []string {
	if c == nil {
		return nil
	}
	var out []string
	if c.Column != "" {
		out = append(out, c.Column)
	}
	for i := range c.Children {
		out = append(out, Columns(&c.Children[i])...)
	}
	return out
}

// Evaluate tests a row keyed by lower-case column name.
func Evaluate(c *types.Condition, row map[string]string) bool {
	switch c.Operator {
	case types.OpAnd:
		for i := range c.Children {
			if !Evaluate(&c.Children[i], row) {
				return false
			}
		}
		return true
	case types.OpOr:
		for i := range c.Children {
			if Evaluate(&c.Children[i], row) {
				return true
			}
		}
		return false
	}

	val, exists := row[c.Column]
	switch c.Operator {
	case types.OpIsNull:
		return !exists || val == "" || val == "NULL"
	case types.OpIsNotNull:
		return exists && val != "" && val != "NULL"
	}

	if !exists {
		return false
	}

	target := c.ResolvedTarget
	switch c.Operator {
	case types.OpEq:
		return val == target
	case types.OpNeq:
		return val != target
	case types.OpGt:
		return compare(val, target) > 0
	case types.OpLt:
		return compare(val, target) < 0
	case types.OpGte:
		return compare(val, target) >= 0
	case types.OpLte:
		return compare(val, target) <= 0
	case types.OpLike:
		return strings.Contains(strings.ToLower(val), strings.ToLower(target))
	case types.OpIn:
		items, ok := c.Value.([]interface{})
		if !ok {
			return val == target
		}
		for _, item := range items {
			if val == fmt.Sprintf("%v", item) {
				return true
			}
		}
		return false
	}

	return false
}

// compare orders numerically when both sides are numbers, else as strings.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}
