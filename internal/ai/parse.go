package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	scorePattern    = regexp.MustCompile(`(?i)"?score"?\s*[:=]\s*"?(-?\d+(?:\.\d+)?)`)
	feedbackPattern = regexp.MustCompile(`(?is)"?feedback"?\s*[:=]\s*"((?:[^"\\]|\\.)*)"`)
)

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

// parseQuestions accepts a JSON array, an object with a "questions" array or
// plain text with one question per line.
func parseQuestions(raw string) []string {
	cleaned := extractJSON(raw)

	var list []any
	if err := json.Unmarshal([]byte(cleaned), &list); err == nil {
		return questionItems(list)
	}

	var wrapped map[string]any
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err == nil {
		if items, ok := wrapped["questions"].([]any); ok {
			return questionItems(items)
		}
	}

	return strings.Split(cleaned, "\n")
}

func questionItems(items []any) []string {
	questions := make([]string, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case map[string]any:
			questions = append(questions, coerceString(val["question"]))
		default:
			questions = append(questions, coerceString(val))
		}
	}
	return questions
}

func parseEvaluation(raw string) (*Evaluation, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err == nil {
		score := coerceFloat(data["score"])
		feedback := coerceString(data["feedback"])
		if !math.IsNaN(score) || feedback != "" {
			return newEvaluation(score, feedback), nil
		}
	}

	return extractEvaluation(cleaned)
}

// extractEvaluation pulls score and feedback out of text that is not valid JSON.
func extractEvaluation(raw string) (*Evaluation, error) {
	score := math.NaN()
	if match := scorePattern.FindStringSubmatch(raw); len(match) == 2 {
		score = coerceFloat(match[1])
	}

	feedback := ""
	if match := feedbackPattern.FindStringSubmatch(raw); len(match) == 2 {
		if unquoted, err := strconv.Unquote(`"` + match[1] + `"`); err == nil {
			feedback = strings.TrimSpace(unquoted)
		} else {
			feedback = strings.TrimSpace(match[1])
		}
	}

	if math.IsNaN(score) && feedback == "" {
		return nil, fmt.Errorf("%w: no score or feedback found", ErrMalformedResponse)
	}

	return newEvaluation(score, feedback), nil
}

func newEvaluation(score float64, feedback string) *Evaluation {
	if math.IsNaN(score) {
		score = 0
	}
	return &Evaluation{Score: int(math.Round(score)), Feedback: feedback}
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
