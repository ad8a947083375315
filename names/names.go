// Package names converts field and table names between the casing used at the
// API boundary and the identifiers stored in the relational store.
package names

import (
	"strings"
	"unicode"
)

// Stored returns the lowercase, underscore-joined identifier used inside the
// store. "FooPerson" and "fooPerson" both become "foo_person".
func Stored(s string) string {
	return Safe(separate(s, '_'))
}

// External returns the lower-camel identifier used at the API boundary.
// "created_at" becomes "createdAt".
func External(s string) string {
	p := Pascal(s)
	if p == "" {
		return ""
	}
	r := []rune(p)
	r[0] = unicode.ToLower(r[0])
	return Safe(string(r))
}

// Pascal upper-cases the first rune and every rune following a '-', '_' or
// '.' separator, dropping the separator.
func Pascal(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteRune(unicode.ToUpper(r[0]))
	for i := 1; i < len(r); i++ {
		if isSeparator(r[i]) && i+1 < len(r) && isWord(r[i+1]) {
			b.WriteRune(unicode.ToUpper(r[i+1]))
			i++
			continue
		}
		b.WriteRune(r[i])
	}
	return b.String()
}

// Safe strips every character outside [A-Za-z0-9_].
func Safe(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isWord(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func separate(s string, sep rune) string {
	var b strings.Builder
	for i, r := range Pascal(s) {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteRune(sep)
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func isSeparator(r rune) bool {
	return r == '-' || r == '_' || r == '.'
}

func isWord(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
