// Package topic reconstructs the implicit namespace hierarchy of pub/sub
// topic names. It provides the path splitter and a trie that holds the
// latest value seen at each topic path.
package topic

import "strings"

// isSeparator reports whether r delimits topic segments. Both MQTT-style
// slashes and dotted sensor IDs appear in real deployments.
func isSeparator(r rune) bool {
	return r == '/' || r == '.'
}

// Split splits a raw topic string into its ordered non-empty segments.
// Leading, trailing, and doubled separators produce no empty segments.
// An empty or all-separator topic yields an empty slice.
func Split(raw string) []string {
	return strings.FieldsFunc(raw, isSeparator)
}
