package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CanonicalContact normalizes a recipient contact for storage and
// comparison: NFC Unicode normalization, trimmed whitespace, and lowercased
// for email addresses (the local-part case fold matches what every major
// provider does in practice).
//
// Normalizing at the boundary means the store can rely on byte equality:
// two spellings of the same address never produce two recipient rows.
func CanonicalContact(method DeliveryMethod, contact string) string {
	c := norm.NFC.String(strings.TrimSpace(contact))
	if method == MethodEmail {
		c = strings.ToLower(c)
	}
	return c
}
