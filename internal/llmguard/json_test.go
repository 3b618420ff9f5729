package llmguard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractFirstJSONFindsObject(t *testing.T) {
	text := "Sure, here's my verdict:\n```json\n{\"merit\": true, \"confidence\": 0.9}\n```\nLet me know if you need more."
	got := ExtractFirstJSON(text)
	require.Equal(t, `{"merit": true, "confidence": 0.9}`, got)
}

func TestExtractFirstJSONNoObjectReturnsEmpty(t *testing.T) {
	require.Equal(t, "", ExtractFirstJSON("no json here at all"))
}
