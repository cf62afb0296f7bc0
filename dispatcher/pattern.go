package dispatcher

import (
	"fmt"
	"sort"
	"strings"
)

// Patterns are comma-separated key:value pairs, e.g. "role:math,cmd:add".
// Canonicalization sorts the pairs so routing is insensitive to pair order.

// ParsePattern splits a pattern into its key/value pairs.
func ParsePattern(pattern string) (map[string]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("dispatcher: pattern is empty")
	}

	pairs := make(map[string]string)
	for _, part := range strings.Split(pattern, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !found || key == "" || value == "" {
			return nil, fmt.Errorf("dispatcher: invalid pattern pair %q in %q", part, pattern)
		}
		pairs[key] = value
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("dispatcher: pattern %q has no pairs", pattern)
	}
	return pairs, nil
}

// Canonical normalizes a pattern to its sorted pair form.
func Canonical(pattern string) (string, error) {
	pairs, err := ParsePattern(pattern)
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = key + ":" + pairs[key]
	}
	return strings.Join(parts, ","), nil
}

// PatternKeys returns the routing keys of a pattern. Used by the protocol
// layer to strip routing fields out of handler payloads.
func PatternKeys(pattern string) ([]string, error) {
	pairs, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// MergePattern copies args and merges the pattern's pairs in as routing
// fields. Explicit argument values win over pattern pairs.
func MergePattern(pattern string, args map[string]any) (map[string]any, error) {
	pairs, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(args)+len(pairs))
	for key, value := range pairs {
		merged[key] = value
	}
	for key, value := range args {
		merged[key] = value
	}
	return merged, nil
}
