package llm

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// EntitySpanResponse is a single entity returned by the model.
type EntitySpanResponse struct {
	Text     string `json:"text"`
	Category string `json:"category"`
}

// EntitySpanExtractionResponse is the complete extraction response.
type EntitySpanExtractionResponse struct {
	Entities []EntitySpanResponse `json:"entities"`
}

// extractJSON extracts the first valid JSON object from a string that may contain extra text.
// This handles cases where LLMs add explanations before/after the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text
}

// ParseEntitySpanResponse parses the extraction JSON. Entries with an empty
// text or an unknown category are skipped rather than failing the batch.
// It only returns an error if the JSON itself is malformed.
func ParseEntitySpanResponse(raw string) ([]EntitySpanResponse, error) {
	var resp EntitySpanExtractionResponse
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse entity span response: %w", err)
	}

	valid := make([]EntitySpanResponse, 0, len(resp.Entities))
	for _, e := range resp.Entities {
		e.Text = strings.TrimSpace(e.Text)
		e.Category = strings.ToUpper(strings.TrimSpace(e.Category))
		if e.Text == "" || !slices.Contains(EntitySpanCategories, e.Category) {
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}
