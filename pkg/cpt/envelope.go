package cpt

import "strings"

// EscapeQuotes backslash-escapes every double quote in s. Nothing else is touched:
// the record API expects exactly this form of the embedded payload.
func EscapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// BuildEnvelope wraps payload for the record API:
//
//	{"fieldData":{"<IDField>": "<id>","<PayloadField>": "<escaped payload>"}}
func BuildEnvelope(d Destination, id, payload string) string {
	escaped := EscapeQuotes(payload)
	var b strings.Builder
	b.Grow(len(escaped) + len(id) + len(d.IDField) + len(d.PayloadField) + 32)
	b.WriteString(`{"fieldData":{"`)
	b.WriteString(d.IDField)
	b.WriteString(`": "`)
	b.WriteString(id)
	b.WriteString(`","`)
	b.WriteString(d.PayloadField)
	b.WriteString(`": "`)
	b.WriteString(escaped)
	b.WriteString(`"}}`)
	return b.String()
}
