package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
//
// Supported values: string, int, int64, bool, []any and map[string]any.
// Floats and nulls are rejected: amounts travel as decimal strings.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mustCanonical(v any) []byte {
	b, err := MarshalCanonical(v)
	if err != nil {
		// canonical() only builds supported types.
		panic(err)
	}
	return b
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return writeCanonicalString(buf, val)
	case int:
		fmt.Fprintf(buf, "%d", val)
	case int64:
		fmt.Fprintf(buf, "%d", val)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareUTF16)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonicalString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	case float32, float64:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// writeCanonicalString writes an NFC-normalized JSON string without HTML
// escaping. U+2028 and U+2029 are emitted literally as RFC 8785 requires.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators turns the encoder's \u2028 and \u2029 escapes back into
// literal characters. An escape preceded by an odd run of backslashes is a
// literal "\\u2028" text and is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && string(data[i+1:i+5]) == "u202" &&
			(data[i+5] == '8' || data[i+5] == '9') {
			run := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				run++
			}
			if run%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

// compareUTF16 orders keys by UTF-16 code units (RFC 8785), not UTF-8 bytes.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

func versionFields(v Version) map[string]any {
	return map[string]any{"clock": v.Clock, "origin": v.Origin}
}

// groupFields is the canonical form of one field group's values.
func groupFields(r Record, g Group) map[string]any {
	switch g {
	case GroupDetails:
		return map[string]any{"name": r.Name, "notes": r.Notes}
	case GroupBilling:
		return map[string]any{
			"amount":   r.Cost.Amount().String(),
			"currency": r.Cost.Currency(),
			"cycle":    r.Cycle.String(),
			"anchor":   r.Anchor.String(),
		}
	case GroupStatus:
		return map[string]any{"status": string(r.Status)}
	}
	return map[string]any{}
}

// canonical is the identity-bearing form of an envelope.
func (e Envelope) canonical() map[string]any {
	groups := make(map[string]any, len(Groups))
	versions := make(map[string]any, len(Groups))
	for _, g := range Groups {
		groups[string(g)] = groupFields(e.Record, g)
		versions[string(g)] = versionFields(e.Record.Versions.Get(g))
	}
	versions["tombstone"] = versionFields(e.Record.Versions.Tombstone)
	return map[string]any{
		"id":       e.Record.ID,
		"fields":   groups,
		"versions": versions,
		"origin":   e.Origin,
		"clock":    e.Clock,
		"deleted":  e.Deleted,
	}
}
