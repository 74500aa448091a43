// Package normalize canonicalizes user supplied identifiers before they are
// stored or compared.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// MessageType upper-cases a message type tag so "image" and "IMAGE" compare
// equal.
func MessageType(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
