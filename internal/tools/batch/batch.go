package batch

import (
	"fmt"
	"strings"
)

// Result holds the outcome of one item in a batch.
type Result struct {
	ID     string
	Err    error
	Detail string
}

// ParseStringOrArray parses a tool argument that can be either a single
// string or an array of strings.
func ParseStringOrArray(param interface{}, paramName string) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	var result []string

	switch v := param.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		result = []string{v}
	case []interface{}:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
			}
			if str == "" {
				return nil, fmt.Errorf("%s[%d] cannot be empty", paramName, i)
			}
			result = append(result, str)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
	}

	return result, nil
}

// Process runs fn on each item and collects per-item outcomes. A failing
// item never stops the rest of the batch.
func Process(ids []string, fn func(id string) (string, error)) []Result {
	results := make([]Result, 0, len(ids))

	for _, id := range ids {
		result := Result{ID: id}
		result.Detail, result.Err = fn(id)
		results = append(results, result)
	}

	return results
}

// FormatResults renders batch outcomes as the numbered text our tools
// return, with a success/failure tally up front.
func FormatResults(results []Result) string {
	succeeded := 0
	for _, r := range results {
		if r.Err == nil {
			succeeded++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d succeeded:\n", succeeded, len(results))
	for i, r := range results {
		if r.Err != nil {
			fmt.Fprintf(&sb, "%d. %s: failed: %v\n", i+1, r.ID, r.Err)
		} else {
			fmt.Fprintf(&sb, "%d. %s: %s\n", i+1, r.ID, r.Detail)
		}
	}
	return sb.String()
}

// AllFailed reports whether no item in the batch succeeded.
func AllFailed(results []Result) bool {
	for _, r := range results {
		if r.Err == nil {
			return false
		}
	}
	return len(results) > 0
}
