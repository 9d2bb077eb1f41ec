package reducer

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// decodeRecords normalizes one partition payload into a flat record
// sequence. Payloads arrive in two shapes: a JSON array of records, kept
// as-is, or a JSON object keyed by record ID whose values are the records,
// taken in document order with empty values dropped.
func decodeRecords(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	switch trimmed[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("bad record array: %w", err)
		}
		return records, nil
	case '{':
		return decodeMappedRecords(trimmed)
	default:
		return nil, fmt.Errorf("payload must be a JSON array or object")
	}
}

func decodeMappedRecords(data []byte) ([]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("bad record mapping: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("bad record mapping: expected object")
	}
	var records []json.RawMessage
	for dec.More() {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("bad record key: %w", err)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("bad record value: %w", err)
		}
		if isTruthy(raw) {
			records = append(records, raw)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("bad record mapping: %w", err)
	}
	return records, nil
}

// isTruthy reports whether a JSON value carries data: null, false, zero,
// the empty string, and empty containers do not.
func isTruthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}
