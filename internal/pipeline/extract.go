package pipeline

import "encoding/json"

// extractText pulls a logical text payload out of a JSON request/response
// body for evaluator input, trying the field names real AI APIs actually
// use. Falls back to the raw body when nothing matches or the body isn't
// JSON. Grounded on internal/api/proxy.go's ProxyRequest, which does the
// same input/query/prompt and response/output/message/choices[0].message.content
// field probing inline; lifted here as a standalone helper shared by both
// the pre-check (request) and post-check (response) phases.
func extractText(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}

	for _, field := range []string{"input", "query", "prompt", "response", "output", "message"} {
		if s, ok := parsed[field].(string); ok && s != "" {
			return s
		}
	}

	if choices, ok := parsed["choices"].([]interface{}); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]interface{}); ok {
			if msg, ok := choice["message"].(map[string]interface{}); ok {
				if content, ok := msg["content"].(string); ok {
					return content
				}
			}
		}
	}

	return string(body)
}
