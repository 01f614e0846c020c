package types

import "strings"

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
