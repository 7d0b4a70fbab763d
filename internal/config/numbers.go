package config

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Issue describes a configuration value that was rejected. The affected
// setting keeps its default; issues are reported, never fatal.
type Issue struct {
	Field   string
	Problem string
}

func (i Issue) Error() string {
	return fmt.Sprintf("config %s: %s", i.Field, i.Problem)
}

// Numbers is a name-to-number table decoded leniently: entries that are not
// finite numbers are dropped and recorded as issues instead of failing the
// whole file.
type Numbers struct {
	Values map[string]float64
	Issues []Issue
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (n *Numbers) UnmarshalYAML(node *yaml.Node) error {
	n.Values = make(map[string]float64)
	n.Issues = nil

	if node.Kind != yaml.MappingNode {
		n.Issues = append(n.Issues, Issue{Field: fmt.Sprintf("line %d", node.Line), Problem: "expected a mapping of names to numbers"})
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		var f float64
		if err := val.Decode(&f); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			n.Issues = append(n.Issues, Issue{Field: key.Value, Problem: fmt.Sprintf("%q is not a finite number", val.Value)})
			continue
		}
		n.Values[key.Value] = f
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (n Numbers) MarshalYAML() (any, error) {
	return n.Values, nil
}

// Len returns the number of accepted entries.
func (n Numbers) Len() int {
	return len(n.Values)
}

// Keys returns the accepted names, sorted.
func (n Numbers) Keys() []string {
	keys := make([]string, 0, len(n.Values))
	for k := range n.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseJSONNumbers decodes a JSON object the same way Numbers decodes YAML.
// Numeric strings are accepted.
func parseJSONNumbers(field, raw string) (map[string]float64, []Issue) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, []Issue{{Field: field, Problem: "not a JSON object: " + err.Error()}}
	}

	var issues []Issue
	out := make(map[string]float64, len(obj))
	for k, v := range obj {
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case string:
			parsed, err := strconv.ParseFloat(x, 64)
			if err != nil {
				issues = append(issues, Issue{Field: field + "." + k, Problem: fmt.Sprintf("%q is not a number", x)})
				continue
			}
			f = parsed
		default:
			issues = append(issues, Issue{Field: field + "." + k, Problem: fmt.Sprintf("%v is not a number", v)})
			continue
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			issues = append(issues, Issue{Field: field + "." + k, Problem: "not a finite number"})
			continue
		}
		out[k] = f
	}
	return out, issues
}
