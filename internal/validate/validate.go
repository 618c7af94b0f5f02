// Package validate holds the syntactic checks applied to user-supplied
// server settings before they become command-line arguments.
package validate

import (
	"strconv"
	"strings"
)

// IsValidPort reports whether candidate parses with strconv.Atoi to a value
// in [0,65535]. A leading sign is accepted, so "+80" and "-0" pass.
func IsValidPort(candidate string) bool {
	if candidate == "" {
		return false
	}

	port, err := strconv.Atoi(candidate)
	if err != nil {
		return false
	}

	return port >= 0 && port <= 65535
}

// IsValidIPv4 reports whether candidate looks like a dotted-quad address.
// Trailing empty segments are dropped before counting, so "1.2.3.4." passes.
// Leading zeros and reserved ranges are not checked.
func IsValidIPv4(candidate string) bool {
	if candidate == "" {
		return false
	}

	parts := strings.Split(candidate, ".")
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	if len(parts) != 4 {
		return false
	}

	for _, s := range parts {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}

	return true
}
