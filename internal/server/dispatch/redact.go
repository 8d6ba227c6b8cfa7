package dispatch

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// maxSerializedParams caps the logged parameter payload.
const maxSerializedParams = 1000

var secretFieldRe = regexp.MustCompile(`(?i)"(password|token|secret)"\s*:\s*"[^"]*"`)

// serializeParams renders operation parameters for logging. Fields literally
// named password, token, or secret (case-insensitive) are masked before the
// value is logged, and the result is truncated with a trailing ellipsis past
// the length cap. Values that cannot be serialized degrade to the type name.
func serializeParams(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("request type: %T", v)
	}

	s := secretFieldRe.ReplaceAllStringFunc(string(b), func(m string) string {
		sub := secretFieldRe.FindStringSubmatch(m)
		return fmt.Sprintf("%q:%q", sub[1], "***")
	})

	if len(s) > maxSerializedParams {
		return s[:maxSerializedParams] + "..."
	}
	return s
}
