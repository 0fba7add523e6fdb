// Package privacy implements the shared privacy predicates applied to
// every caller-supplied string that could carry content: step, decision
// and signal metadata maps, failure messages, and baseline descriptions.
//
// The contract is privacy by construction: the schema stores no prompts,
// responses, reasoning, or other free-form content. These validators are
// the boundary that keeps such content out of the write path entirely.
package privacy

import (
	"fmt"
	"strings"
)

// MaxMetadataValueLen bounds string values inside metadata maps.
const MaxMetadataValueLen = 100

// blockedKeys is the metadata-key blocklist. Matching is case-insensitive
// and exact; presence of a blocked key is a hard reject, never a silent drop.
var blockedKeys = map[string]bool{
	"prompt":           true,
	"response":         true,
	"reasoning":        true,
	"thought":          true,
	"message":          true,
	"content":          true,
	"text":             true,
	"output":           true,
	"input":            true,
	"chain_of_thought": true,
	"explanation":      true,
	"rationale":        true,
}

// sensitiveSubstrings flags failure messages and descriptions that look
// like they carry credentials or secrets.
var sensitiveSubstrings = []string{
	"password",
	"api_key",
	"token",
	"secret",
}

// BlockedKey reports whether key is on the metadata blocklist.
func BlockedKey(key string) bool {
	return blockedKeys[strings.ToLower(key)]
}

// BlockedKeys returns the blocklist for trigger generation and messages.
func BlockedKeys() []string {
	keys := make([]string, 0, len(blockedKeys))
	for k := range blockedKeys {
		keys = append(keys, k)
	}
	return keys
}

// CheckMetadata validates a metadata map: no blocked keys, primitive
// values only (string, number, bool, null), string values at most
// MaxMetadataValueLen characters. The path parameter names the field in
// error messages, e.g. "steps[1].metadata".
func CheckMetadata(path string, metadata map[string]any) error {
	for key, value := range metadata {
		if BlockedKey(key) {
			return fmt.Errorf("%s: key %q is blocked for privacy", path, key)
		}
		switch v := value.(type) {
		case nil, bool:
		case string:
			if len([]rune(v)) > MaxMetadataValueLen {
				return fmt.Errorf("%s: value for key %q exceeds %d characters", path, key, MaxMetadataValueLen)
			}
		case float64, float32, int, int32, int64:
			// JSON numbers decode as float64; typed ints arrive from internal callers.
		default:
			return fmt.Errorf("%s: value for key %q must be a primitive (got %T)", path, key, value)
		}
	}
	return nil
}

// CheckMessage validates a failure message: rejects (rather than redacts)
// messages containing credential-shaped substrings. Matching is
// case-insensitive.
func CheckMessage(path, message string) error {
	lower := strings.ToLower(message)
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return fmt.Errorf("%s: message may contain sensitive data (%q)", path, s)
		}
	}
	return nil
}

// CheckDescription validates a baseline description: blocked keywords and
// credential-shaped substrings are rejected. Length bounds are enforced
// by the caller and by the database.
func CheckDescription(path, description string) error {
	lower := strings.ToLower(description)
	for key := range blockedKeys {
		if strings.Contains(lower, key) {
			return fmt.Errorf("%s: description contains blocked keyword %q", path, key)
		}
	}
	return CheckMessage(path, description)
}
