package adclient

import (
	"strings"
)

// EscapeFilterTerm escapes the characters that carry meaning inside a
// search filter before a caller-supplied term is interpolated into one.
// This is the sole defense against filter injection: the output never
// contains an unescaped occurrence of a reserved character that originated
// from the input.
//
// Reserved characters and their encodings:
//
//	\  → \5c
//	*  → \2a
//	(  → \28
//	)  → \29
//	/  → \2f
//	^@ → \00 (NUL)
//
// Examples:
//   - "john.doe"     → "john.doe" (no change)
//   - "a*b(c)d\\e"   → "a\2ab\28c\29d\5ce"
func EscapeFilterTerm(term string) string {
	if !strings.ContainsAny(term, "\\*()/\x00") {
		return term
	}

	var b strings.Builder
	b.Grow(len(term) + 8)
	for i := 0; i < len(term); i++ {
		switch term[i] {
		case '\\':
			b.WriteString(`\5c`)
		case '*':
			b.WriteString(`\2a`)
		case '(':
			b.WriteString(`\28`)
		case ')':
			b.WriteString(`\29`)
		case '/':
			b.WriteString(`\2f`)
		case 0:
			b.WriteString(`\00`)
		default:
			b.WriteByte(term[i])
		}
	}
	return b.String()
}

// SubstringFilter composes an OR-of-substring-match filter across the given
// attributes for a free-text term, constrained to objectClass. The term is
// escaped before interpolation.
//
// SubstringFilter("user", []string{"sAMAccountName", "mail"}, "doe")
// produces:
//
//	(&(objectClass=user)(|(sAMAccountName=*doe*)(mail=*doe*)))
func SubstringFilter(objectClass string, attributes []string, term string) string {
	escaped := EscapeFilterTerm(term)

	var b strings.Builder
	b.WriteString("(&")
	writeObjectClass(&b, objectClass)
	if len(attributes) == 1 {
		writeSubstringClause(&b, attributes[0], escaped)
	} else {
		b.WriteString("(|")
		for _, attr := range attributes {
			writeSubstringClause(&b, attr, escaped)
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

// IdentifierFilter composes an OR filter of exact matches on attribute for
// a batch of identifiers, constrained to objectClass. Each identifier is
// escaped before interpolation. Used by batch resolution, where one such
// query replaces len(identifiers) individual lookups.
func IdentifierFilter(objectClass, attribute string, identifiers []string) string {
	var b strings.Builder
	b.WriteString("(&")
	writeObjectClass(&b, objectClass)
	if len(identifiers) == 1 {
		writeExactClause(&b, attribute, identifiers[0])
	} else {
		b.WriteString("(|")
		for _, id := range identifiers {
			writeExactClause(&b, attribute, id)
		}
		b.WriteString(")")
	}
	b.WriteString(")")
	return b.String()
}

func writeObjectClass(b *strings.Builder, objectClass string) {
	b.WriteString("(objectClass=")
	if objectClass == "" {
		b.WriteString("*")
	} else {
		b.WriteString(EscapeFilterTerm(objectClass))
	}
	b.WriteString(")")
}

func writeSubstringClause(b *strings.Builder, attribute, escapedTerm string) {
	b.WriteString("(")
	b.WriteString(attribute)
	b.WriteString("=*")
	b.WriteString(escapedTerm)
	b.WriteString("*)")
}

func writeExactClause(b *strings.Builder, attribute, identifier string) {
	b.WriteString("(")
	b.WriteString(attribute)
	b.WriteString("=")
	b.WriteString(EscapeFilterTerm(identifier))
	b.WriteString(")")
}
