package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// buildRiskPrompt returns the embedded system prompt.
func buildRiskPrompt() string {
	return riskPrompt
}

// buildUserMessage builds the user message shared across all providers.
func buildUserMessage(info *ImageInfo) string {
	var b strings.Builder
	b.WriteString("Assess the attached image.")
	if info == nil {
		return b.String()
	}
	if info.FileName != "" {
		fmt.Fprintf(&b, "\nOriginal file name: %s", info.FileName)
	}
	if info.Width > 0 && info.Height > 0 {
		fmt.Fprintf(&b, "\nOriginal size: %dx%d", info.Width, info.Height)
	}
	return b.String()
}

// parseAssessment extracts, decodes and validates a model answer.
func parseAssessment(content string) (*RiskAssessment, error) {
	var r RiskAssessment
	if err := json.Unmarshal([]byte(extractJSON(content)), &r); err != nil {
		return nil, err
	}
	r.Label = RiskLabel(strings.ToLower(strings.TrimSpace(string(r.Label))))
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// retryMessage is sent back to the model after an unusable answer.
func retryMessage(err error) string {
	return fmt.Sprintf("JSON parse error: %v. Please fix the JSON and try again. Output ONLY a valid JSON object with label, confidence, ai_generated and reasons.", err)
}

// extractJSON attempts to extract JSON from a response that may contain extra text
func extractJSON(content string) string {
	// Try to find JSON object boundaries
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}

	// Find matching closing brace
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}

	// If no matching brace found, return from start
	return content[start:]
}
