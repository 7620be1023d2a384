package provider

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// RawString renders a loosely typed JSON scalar as a string: strings are
// unquoted, numbers keep their literal text, anything else is empty.
func RawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// RawInt parses a JSON number or numeric string.
func RawInt(raw json.RawMessage) (int, bool) {
	s := RawString(raw)
	if s == "" {
		return 0, false
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f), true
	}
	return 0, false
}

// Lookup walks a decoded JSON object along keys and returns the scalar found
// there as a string. A list yields its first scalar element.
func Lookup(doc map[string]any, keys ...string) string {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[k]
	}
	if list, ok := cur.([]any); ok {
		for _, item := range list {
			if s := scalar(item); s != "" {
				return s
			}
		}
		return ""
	}
	return scalar(cur)
}

// FirstOf returns the first non-empty value.
func FirstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Object returns the nested object at keys, or nil.
func Object(doc map[string]any, keys ...string) map[string]any {
	var cur any = doc
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[k]
	}
	m, _ := cur.(map[string]any)
	return m
}

func scalar(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// DecodeObject decodes raw into a generic object; non-objects yield nil.
func DecodeObject(raw json.RawMessage) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}
