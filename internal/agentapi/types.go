package agentapi

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// UnprocessedText is shown when the agent reports failure without a reason.
	UnprocessedText = "I apologize, I was unable to process your request. Please try again."
	// CallFailedText is shown when the request itself fails.
	CallFailedText = "I apologize for the inconvenience. Please try your request again."
)

// Request is the text fallback request body.
type Request struct {
	Message   string `json:"message"`
	AgentID   string `json:"agentId"`
	SessionID string `json:"sessionId,omitempty"`
}

// Result is the normalized agent answer. Response is usually an object
// but may be any JSON value.
type Result struct {
	Success     bool   `json:"success"`
	Response    any    `json:"response,omitempty"`
	RawResponse any    `json:"raw_response,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ExtractText picks the text to show for r. On success the first non-empty
// of response.message, response.result.text, response.result.message,
// response.result (as a string) and raw_response is used; the empty string
// means nothing should be shown. On failure the error or UnprocessedText is
// returned.
func ExtractText(r Result) string {
	if !r.Success {
		if msg := strings.TrimSpace(r.Error); msg != "" {
			return r.Error
		}
		return UnprocessedText
	}

	resp, _ := r.Response.(map[string]any)
	result, _ := resp["result"].(map[string]any)
	for _, candidate := range []string{
		stringField(resp, "message"),
		stringField(result, "text"),
		stringField(result, "message"),
	} {
		if candidate != "" {
			return candidate
		}
	}
	if s, ok := resp["result"].(string); ok && s != "" {
		return s
	}
	return stringify(r.RawResponse)
}

func stringField(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	s, _ := obj[key].(string)
	return s
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64, bool:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
