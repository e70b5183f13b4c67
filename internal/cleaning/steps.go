package cleaning

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	headingPrefix  = regexp.MustCompile(`^#+\s*`)
	listPrefix     = regexp.MustCompile(`^(?:\d+\s*[.)]|[-*•])\s+`)
	questionPrefix = regexp.MustCompile(`(?i)^(?:question|q)\s*\d*\s*[:.)]\s*`)
	emphasis       = strings.NewReplacer("**", "", "__", "")
	whitespace     = regexp.MustCompile(`\s+`)
)

type stripFormatting struct{ toggle }

// NewStripFormatting removes markdown emphasis, list markers, "Question N:"
// prefixes and wrapping quotes.
func NewStripFormatting() Step {
	return &stripFormatting{}
}

func (s *stripFormatting) Name() string { return "strip_formatting" }

func (s *stripFormatting) Apply(_ Deps, questions []string) ([]string, Stats, error) {
	result := make([]string, 0, len(questions))
	for _, q := range questions {
		result = append(result, StripFormatting(q))
	}
	return result, stats(len(questions), len(result)), nil
}

func (s *stripFormatting) Status() Status {
	return Status{Name: s.Name(), Enabled: s.IsEnabled(), Reason: s.reason}
}

// StripFormatting cleans a single line.
func StripFormatting(line string) string {
	line = strings.TrimSpace(line)
	line = headingPrefix.ReplaceAllString(line, "")
	line = listPrefix.ReplaceAllString(line, "")
	line = emphasis.Replace(line)
	line = strings.TrimSpace(line)
	line = questionPrefix.ReplaceAllString(line, "")
	line = strings.Trim(line, "\"'“”")
	return strings.TrimSpace(whitespace.ReplaceAllString(line, " "))
}

type dropNonQuestions struct{ toggle }

// NewDropNonQuestions drops empty lines and intro or heading lines ending with ':'.
func NewDropNonQuestions() Step {
	return &dropNonQuestions{}
}

func (d *dropNonQuestions) Name() string { return "drop_non_questions" }

func (d *dropNonQuestions) Apply(_ Deps, questions []string) ([]string, Stats, error) {
	result := make([]string, 0, len(questions))
	for _, q := range questions {
		trimmed := strings.TrimSpace(q)
		if trimmed == "" || strings.HasSuffix(trimmed, ":") {
			continue
		}
		result = append(result, trimmed)
	}
	return result, stats(len(questions), len(result)), nil
}

func (d *dropNonQuestions) Status() Status {
	return Status{Name: d.Name(), Enabled: d.IsEnabled(), Reason: d.reason}
}

type dedupe struct{ toggle }

// NewDedupe removes case-insensitive duplicates keeping the first occurrence.
func NewDedupe() Step {
	return &dedupe{}
}

func (d *dedupe) Name() string { return "dedupe" }

func (d *dedupe) Apply(_ Deps, questions []string) ([]string, Stats, error) {
	seen := make(map[string]struct{}, len(questions))
	result := make([]string, 0, len(questions))
	for _, q := range questions {
		key := strings.ToLower(whitespace.ReplaceAllString(strings.TrimSpace(q), " "))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, q)
	}
	return result, stats(len(questions), len(result)), nil
}

func (d *dedupe) Status() Status {
	return Status{Name: d.Name(), Enabled: d.IsEnabled(), Reason: d.reason}
}

type limit struct {
	toggle
	last int
}

// NewLimit keeps at most Deps.Limit questions.
func NewLimit() Step {
	return &limit{}
}

func (l *limit) Name() string { return "limit" }

func (l *limit) Apply(deps Deps, questions []string) ([]string, Stats, error) {
	l.last = deps.Limit
	if deps.Limit <= 0 || len(questions) <= deps.Limit {
		return questions, stats(len(questions), len(questions)), nil
	}
	return questions[:deps.Limit], stats(len(questions), deps.Limit), nil
}

func (l *limit) Status() Status {
	details := map[string]string{}
	if l.last > 0 {
		details["limit"] = strconv.Itoa(l.last)
	}
	return Status{Name: l.Name(), Enabled: l.IsEnabled(), Reason: l.reason, Details: details}
}
