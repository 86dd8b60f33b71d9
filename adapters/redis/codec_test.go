package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessage(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		original := TestMessage{ID: "42", Data: "hello"}

		encoded, err := EncodeMessage(original)
		require.NoError(t, err)
		require.Contains(t, encoded, "data")

		decoded, err := DecodeMessage[TestMessage](encoded)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("pointer types are rejected", func(t *testing.T) {
		_, err := EncodeMessage(&TestMessage{ID: "1"})
		assert.ErrorIs(t, err, ErrPointerType)

		_, err = DecodeMessage[*TestMessage](map[string]any{"data": "x"})
		assert.ErrorIs(t, err, ErrPointerType)
	})

	t.Run("empty message decodes to zero value", func(t *testing.T) {
		decoded, err := DecodeMessage[TestMessage](map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, TestMessage{}, decoded)
	})

	t.Run("missing data field", func(t *testing.T) {
		_, err := DecodeMessage[TestMessage](map[string]any{"other": "x"})
		assert.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := DecodeMessage[TestMessage](map[string]any{"data": "%%%"})
		assert.Error(t, err)
	})
}
