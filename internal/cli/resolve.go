// Package cli provides shared utilities for CLI commands.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

// Errors
var (
	ErrNoMatch   = errors.New("no entry matches")
	ErrAmbiguous = errors.New("ambiguous entry id")
)

// MinPrefixLength is the shortest id prefix accepted.
const MinPrefixLength = 4

// ResolveID maps an id or unique id prefix to a full id from ids.
// An exact match always wins.
func ResolveID(arg string, ids []string) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", fmt.Errorf("%w: empty id", ErrNoMatch)
	}

	var matches []string
	for _, id := range ids {
		if id == arg {
			return id, nil
		}
		if strings.HasPrefix(id, arg) {
			matches = append(matches, id)
		}
	}

	switch {
	case len(matches) == 0:
		return "", fmt.Errorf("%w '%s'", ErrNoMatch, arg)
	case len(arg) < MinPrefixLength:
		return "", fmt.Errorf("%w '%s': use at least %d characters", ErrAmbiguous, arg, MinPrefixLength)
	case len(matches) > 1:
		return "", fmt.Errorf("%w '%s' matches %d entries", ErrAmbiguous, arg, len(matches))
	}
	return matches[0], nil
}

// ResolveIDs resolves several arguments, dropping duplicates and keeping
// the order of first appearance.
func ResolveIDs(args []string, ids []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string
	for _, arg := range args {
		id, err := ResolveID(arg, ids)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			result = append(result, id)
		}
	}
	return result, nil
}

// ShortID returns the display form of an id.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
