package reducer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawStrings(records []json.RawMessage) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r)
	}
	return out
}

func TestDecodeRecords(t *testing.T) {
	t.Run("ArrayKeptAsIs", func(t *testing.T) {
		records, err := decodeRecords([]byte(`[{"id":1}, null, {"id":2}]`))
		require.NoError(t, err)
		assert.Equal(t, []string{`{"id":1}`, `null`, `{"id":2}`}, rawStrings(records))
	})

	t.Run("EmptyArray", func(t *testing.T) {
		records, err := decodeRecords([]byte(`[]`))
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("ObjectValuesInDocumentOrder", func(t *testing.T) {
		payload := `{"zz-1": {"id": 1}, "aa-2": {"id": 2}, "mm-3": {"id": 3}}`
		records, err := decodeRecords([]byte(payload))
		require.NoError(t, err)
		assert.Equal(t, []string{`{"id": 1}`, `{"id": 2}`, `{"id": 3}`}, rawStrings(records),
			"values keep document order, not key order")
	})

	t.Run("ObjectDropsEmptyValues", func(t *testing.T) {
		payload := `{
			"a": {"id": 1},
			"b": null,
			"c": false,
			"d": 0,
			"e": "",
			"f": {},
			"g": [],
			"h": {"id": 2},
			"i": true,
			"j": 0.5,
			"k": "x",
			"l": [1]
		}`
		records, err := decodeRecords([]byte(payload))
		require.NoError(t, err)
		assert.Equal(t, []string{`{"id": 1}`, `{"id": 2}`, `true`, `0.5`, `"x"`, `[1]`}, rawStrings(records))
	})

	t.Run("LeadingWhitespace", func(t *testing.T) {
		records, err := decodeRecords([]byte("\n\t [1, 2]"))
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("EmptyPayload", func(t *testing.T) {
		_, err := decodeRecords([]byte("  \n"))
		assert.ErrorContains(t, err, "empty payload")
	})

	t.Run("ScalarPayload", func(t *testing.T) {
		_, err := decodeRecords([]byte(`"just a string"`))
		assert.ErrorContains(t, err, "must be a JSON array or object")
	})

	t.Run("MalformedArray", func(t *testing.T) {
		_, err := decodeRecords([]byte(`[{"id":1}`))
		assert.Error(t, err)
	})

	t.Run("MalformedObject", func(t *testing.T) {
		_, err := decodeRecords([]byte(`{"a": {"id":1}`))
		assert.Error(t, err)
	})
}

func TestIsTruthy(t *testing.T) {
	falsy := []string{`null`, `false`, `0`, `0.0`, `""`, `{}`, `[]`}
	for _, v := range falsy {
		assert.False(t, isTruthy(json.RawMessage(v)), v)
	}

	truthy := []string{`true`, `1`, `-0.5`, `"x"`, `{"a":1}`, `[0]`, `[null]`}
	for _, v := range truthy {
		assert.True(t, isTruthy(json.RawMessage(v)), v)
	}

	assert.False(t, isTruthy(json.RawMessage(`not json`)))
}
