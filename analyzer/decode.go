package analyzer

import (
	"golang.org/x/net/html"
)

// DecodeEntities decodes HTML entities (named, decimal and hex) in s.
// Decoding repeats until the string stops changing, so double-escaped input
// such as "&amp;amp;" ends up fully decoded and DecodeEntities(DecodeEntities(s))
// always equals DecodeEntities(s).
func DecodeEntities(s string) string {
	for {
		decoded := html.UnescapeString(s)
		if decoded == s {
			return s
		}
		s = decoded
	}
}
