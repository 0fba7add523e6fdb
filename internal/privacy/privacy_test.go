package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockedKeyCaseInsensitive(t *testing.T) {
	assert.True(t, BlockedKey("prompt"))
	assert.True(t, BlockedKey("PROMPT"))
	assert.True(t, BlockedKey("Chain_Of_Thought"))
	assert.False(t, BlockedKey("tool_name"))
	// Exact match only: substrings and supersets pass.
	assert.False(t, BlockedKey("prompt_tokens"))
	assert.False(t, BlockedKey("output_format"))
}

func TestCheckMetadataBlockedKey(t *testing.T) {
	err := CheckMetadata("steps[0].metadata", map[string]any{"response": "x"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0].metadata")
	assert.Contains(t, err.Error(), "response")
}

func TestCheckMetadataPrimitiveValues(t *testing.T) {
	ok := map[string]any{
		"tool_name":   "web_search",
		"retry_count": float64(2),
		"cached":      true,
		"note":        nil,
	}
	assert.NoError(t, CheckMetadata("metadata", ok))

	nested := map[string]any{"inner": map[string]any{"a": 1}}
	assert.Error(t, CheckMetadata("metadata", nested))

	list := map[string]any{"items": []any{"a"}}
	assert.Error(t, CheckMetadata("metadata", list))
}

func TestCheckMetadataStringLength(t *testing.T) {
	assert.NoError(t, CheckMetadata("metadata", map[string]any{
		"v": strings.Repeat("a", MaxMetadataValueLen),
	}))
	assert.Error(t, CheckMetadata("metadata", map[string]any{
		"v": strings.Repeat("a", MaxMetadataValueLen+1),
	}))
}

func TestCheckMessageSensitiveSubstrings(t *testing.T) {
	assert.Error(t, CheckMessage("failure.message", "request failed: bad API_KEY"))
	assert.Error(t, CheckMessage("failure.message", "token expired"))
	assert.Error(t, CheckMessage("failure.message", "wrong Password supplied"))
	assert.NoError(t, CheckMessage("failure.message", "upstream returned 503"))
}

func TestCheckDescription(t *testing.T) {
	assert.NoError(t, CheckDescription("description", "baseline after v2 rollout"))
	assert.Error(t, CheckDescription("description", "captures the prompt distribution"))
	assert.Error(t, CheckDescription("description", "uses a secret sauce"))
}
