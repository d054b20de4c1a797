package element

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// DomainElement prefixes element hashes. The version suffix leaves room
// for a future encoding change.
const DomainElement = "fedgraph/element/v1"

// MarshalCanonical produces canonical JSON: object keys sorted by byte
// order, no HTML escaping, strings NFC normalised, no floats and no null.
// Stored record values and qualifiers use this encoding, so it must stay
// stable.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case String:
		return writeCanonicalString(buf, string(val))
	case string:
		return writeCanonicalString(buf, val)
	case Int:
		fmt.Fprintf(buf, "%d", int64(val))
	case int64:
		fmt.Fprintf(buf, "%d", val)
	case int:
		fmt.Fprintf(buf, "%d", val)
	case Bool:
		fmt.Fprintf(buf, "%t", bool(val))
	case bool:
		fmt.Fprintf(buf, "%t", val)
	case List:
		items := make([]any, len(val))
		for i, e := range val {
			items[i] = e
		}
		return writeCanonicalArray(buf, items)
	case []Value:
		items := make([]any, len(val))
		for i, e := range val {
			items[i] = e
		}
		return writeCanonicalArray(buf, items)
	case []any:
		return writeCanonicalArray(buf, val)
	case Properties:
		obj := make(map[string]any, len(val))
		for k, e := range val {
			obj[k] = e
		}
		return writeCanonicalObject(buf, obj)
	case Statistics:
		obj := make(map[string]any, len(val))
		for k, st := range val {
			obj[k] = map[string]any{"type": st.Type(), "value": st.Value()}
		}
		return writeCanonicalObject(buf, obj)
	case map[string]any:
		return writeCanonicalObject(buf, val)
	case float64, float32:
		return fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	// Encoder appends a newline.
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

func writeCanonicalArray(buf *bytes.Buffer, items []any) error {
	buf.WriteByte('[')
	for i, e := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, e); err != nil {
			return fmt.Errorf("array[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	normalized := make(map[string]string, len(obj))
	for k := range obj {
		nk := norm.NFC.String(k)
		if prev, dup := normalized[nk]; dup {
			return fmt.Errorf("keys %q and %q collide after NFC normalisation", prev, k)
		}
		normalized[nk] = k
		keys = append(keys, nk)
	}
	slices.Sort(keys)

	buf.WriteByte('{')
	for i, nk := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, nk); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[normalized[nk]]); err != nil {
			return fmt.Errorf("object[%q]: %w", nk, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// hashWithDomain computes SHA256(domain + 0x00 + data) as hex.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ElementID returns a content-addressed ID for an element: its identity
// plus its properties. Statistics are not part of the ID.
func ElementID(e Element) (string, error) {
	obj := map[string]any{
		"group": e.Group,
		"kind":  e.Kind.String(),
	}
	if e.Kind == KindEdge {
		obj["source"] = e.Source
		obj["destination"] = e.Destination
		obj["directed"] = e.Directed
	} else {
		obj["vertex"] = e.Vertex
	}
	if len(e.Properties) > 0 {
		obj["properties"] = e.Properties
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ElementID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainElement, canonical), nil
}
