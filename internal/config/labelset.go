package config

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const labelsetRangePrefix = "range:"

// ParseLabelset converts the value of a labelset option into a sorted set of
// labels.
//
// A string is split into one label per character, unless it starts with
// "range:" in which case it lists integer ranges ("range: 1-3, 7"). An array
// contributes one label per element; integers are formatted in base 10.
func ParseLabelset(raw any) ([]string, error) {
	var labels []string
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, labelsetRangePrefix) {
			parsed, err := parseLabelRanges(strings.TrimPrefix(trimmed, labelsetRangePrefix))
			if err != nil {
				return nil, err
			}
			labels = parsed
		} else {
			for _, r := range trimmed {
				labels = append(labels, string(r))
			}
		}
	case int64:
		labels = []string{strconv.FormatInt(v, 10)}
	case []any:
		for i, item := range v {
			switch elem := item.(type) {
			case string:
				labels = append(labels, elem)
			case int64:
				labels = append(labels, strconv.FormatInt(elem, 10))
			default:
				return nil, fmt.Errorf("labelset element %d: expected string or integer, got %s", i, typeName(item))
			}
		}
	case []string:
		labels = append(labels, v...)
	default:
		return nil, fmt.Errorf("labelset: expected string or array, got %s", typeName(raw))
	}

	set := dedupeLabels(labels)
	if len(set) == 0 {
		return nil, errors.New("labelset is empty")
	}
	return set, nil
}

func parseLabelRanges(value string) ([]string, error) {
	var labels []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("labelset range %q: %w", part, err)
			}
			labels = append(labels, strconv.Itoa(n))
			continue
		}
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("labelset range %q: %w", part, err)
		}
		end, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("labelset range %q: %w", part, err)
		}
		if end < start {
			return nil, fmt.Errorf("labelset range %q: end before start", part)
		}
		for n := start; n <= end; n++ {
			labels = append(labels, strconv.Itoa(n))
		}
	}
	return labels, nil
}

func dedupeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, label := range labels {
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}
