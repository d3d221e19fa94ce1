package cache

import "strings"

// Key joins segments into a canonical cache key. All callers must build
// keys through here so one typo cannot fragment the cache namespace.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Prefix builds a key prefix suitable for DeletePrefix, with a trailing
// separator so "price:AAPL" does not match "price:AAPLX".
func Prefix(parts ...string) string {
	return strings.Join(parts, ":") + ":"
}
