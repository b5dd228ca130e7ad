package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// llmJudgeResponse is the strict-JSON contract expected from the judge
// endpoint. A response that fails to parse, or fails validateLLMJudge,
// is treated as untrusted and the evaluator falls back to patternBasedCheck
// instead of trusting it.
type llmJudgeResponse struct {
	ViolatesPolicy bool     `json:"violates_policy"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	Violations     []string `json:"violations"`
}

// evaluateLLMAssisted judges payload against cfg.PromptTemplate via the
// configured LLM endpoint, falling back to a keyword-pattern check when no
// endpoint/API key is configured, the call fails, or the response doesn't
// survive validateLLMJudge. fallbackUsed reports whether the pattern path
// was taken, so callers can surface it in Result.FallbackUsed. A detected
// prompt injection attempt is not a fallback: it is the judge itself
// refusing to be steered, reported via reason="prompt_injection_detected"
// instead.
func evaluateLLMAssisted(ctx context.Context, cfg *LLMAssistedConfig, payload string, endpoint, apiKeyEnv, model string) (score float64, fallbackUsed bool, reason string, err error) {
	if cfg == nil {
		return 0, false, "", nil
	}

	if isPromptInjection(payload) {
		return 1, false, "prompt_injection_detected", nil
	}

	apiKey := ""
	if apiKeyEnv != "" {
		apiKey = os.Getenv(apiKeyEnv)
	}

	if endpoint != "" && apiKey != "" {
		resp, callErr := callLLMJudge(ctx, endpoint, apiKey, model, cfg, payload)
		if callErr == nil && validateLLMJudge(resp) {
			return confidenceToScore(resp), false, "", nil
		}
	}

	return patternBasedCheck(cfg, payload), true, "", nil
}

func callLLMJudge(ctx context.Context, endpoint, apiKey, model string, cfg *LLMAssistedConfig, payload string) (*llmJudgeResponse, error) {
	text := sanitizeInput(payload)
	const maxLen = 3000
	if len(text) > maxLen {
		text = text[:maxLen]
	}

	systemPrompt := cfg.PromptTemplate
	if systemPrompt == "" {
		systemPrompt = defaultJudgePrompt()
	}
	if model == "" {
		model = "gpt-4"
	}

	reqBody := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": fmt.Sprintf("Analyze this content:\n\n%s", text)},
		},
		"temperature": 0.1,
		"max_tokens":  400,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal judge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build judge request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("judge endpoint %d: %s", resp.StatusCode, string(b))
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode judge response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("judge returned no choices")
	}

	var parsed llmJudgeResponse
	if err := json.Unmarshal([]byte(apiResp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("parse judge content: %w", err)
	}
	return &parsed, nil
}

func confidenceToScore(r *llmJudgeResponse) float64 {
	if r.ViolatesPolicy {
		return clamp01(r.Confidence)
	}
	return clamp01(1 - r.Confidence)
}

func defaultJudgePrompt() string {
	return `You are a compliance checker analyzing content against a safety policy.

Response format (JSON only, no other text):
{
  "violates_policy": true/false,
  "confidence": 0.0-1.0,
  "reasoning": "brief explanation",
  "violations": ["specific issues found"]
}

Be strict but fair. If uncertain, err on the side of caution.`
}

// patternBasedCheck is the keyword fallback used when no judge is reachable
// or its response is untrusted.
func patternBasedCheck(cfg *LLMAssistedConfig, payload string) float64 {
	keywords := cfg.Keywords
	if len(keywords) == 0 {
		keywords = []string{"inappropriate", "offensive", "illegal", "prohibited"}
	}

	lower := strings.ToLower(payload)
	matches := 0
	for _, kw := range keywords {
		matches += strings.Count(lower, strings.ToLower(kw))
	}

	return clamp01(float64(matches) * 0.2)
}

// isPromptInjection flags content that tries to steer the judge's own
// output rather than being judged on its merits — instruction-override
// phrases, role markers, and a high density of structural characters that
// suggests an attempt to forge the judge's JSON response.
func isPromptInjection(text string) bool {
	lower := strings.ToLower(text)

	patterns := []string{
		"ignore previous", "ignore all previous", "disregard previous",
		"forget previous", "ignore the above", "disregard the above",
		"new instructions:", "system:", "assistant:", "you are now",
		"act as if", "pretend you are",
		`"violates_policy": false`, `"confidence": 1.0`, `"confidence": 0.0`,
	}
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}

	special := 0
	for _, r := range text {
		if r == '{' || r == '}' || r == '[' || r == ']' || r == '<' || r == '>' || r == '\\' {
			special++
		}
	}
	return len(text) > 0 && special > len(text)/10
}

// validateLLMJudge rejects responses that are structurally implausible or
// that show signs of having been steered by injected content, so that a
// compromised or malformed judge answer falls back to patternBasedCheck
// instead of being trusted outright.
func validateLLMJudge(r *llmJudgeResponse) bool {
	if r == nil {
		return false
	}
	if r.Confidence < 0 || r.Confidence > 1.0 {
		return false
	}
	if len(strings.TrimSpace(r.Reasoning)) < 10 {
		return false
	}
	lower := strings.ToLower(r.Reasoning)
	for _, term := range []string{"ignore previous", "as instructed", "user told me to", "following your request"} {
		if strings.Contains(lower, term) {
			return false
		}
	}
	return len(r.Violations) <= 50
}

// sanitizeInput strips control characters and neutralizes role markers
// before the text reaches the judge prompt.
func sanitizeInput(text string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 32 && r <= 126) || r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		return -1
	}, text)

	replacements := []struct{ old, new string }{
		{"System:", "[SYSTEM]"}, {"system:", "[SYSTEM]"},
		{"Assistant:", "[ASSISTANT]"}, {"assistant:", "[ASSISTANT]"},
		{"User:", "[USER]"}, {"user:", "[USER]"},
	}
	for _, r := range replacements {
		cleaned = strings.ReplaceAll(cleaned, r.old, r.new)
	}
	return cleaned
}
