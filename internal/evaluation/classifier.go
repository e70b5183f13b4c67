package evaluation

import "strings"

// Classifier decides whether a question expects a structured code answer.
type Classifier interface {
	IsCodeQuestion(question string) bool
}

var codeKeywords = []string{
	"sql query",
	"write a function",
	"implement",
	"algorithm",
	"python function",
	"create a class",
}

var pythonVerbs = []string{"write", "implement", "create", "code"}

// KeywordClassifier matches lower-cased questions against fixed keywords.
// Extra adds keywords on top of the built-in ones.
type KeywordClassifier struct {
	Extra []string
}

func (k KeywordClassifier) IsCodeQuestion(question string) bool {
	q := strings.ToLower(question)

	for _, keyword := range codeKeywords {
		if strings.Contains(q, keyword) {
			return true
		}
	}
	for _, keyword := range k.Extra {
		if keyword = strings.ToLower(strings.TrimSpace(keyword)); keyword != "" && strings.Contains(q, keyword) {
			return true
		}
	}

	if strings.Contains(q, "sql") && (strings.Contains(q, "query") || strings.Contains(q, "write")) {
		return true
	}

	if strings.Contains(q, "python") {
		for _, verb := range pythonVerbs {
			if strings.Contains(q, verb) {
				return true
			}
		}
	}

	return false
}
