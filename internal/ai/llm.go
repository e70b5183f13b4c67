package ai

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/interview-coach/internal/cleaning"
	"github.com/spigell/interview-coach/internal/logger"
	"github.com/spigell/interview-coach/internal/utils"
)

//go:embed prompts/system.md
var systemPrompt string

//go:embed prompts/questions.md
var questionsTemplate string

//go:embed prompts/evaluate.md
var evaluateTemplate string

//go:embed prompts/analyze.md
var analyzeTemplate string

const (
	defaultMaxLogLength = 200
	maxResumeRunes      = 4000
	maxJobRunes         = 3000
	defaultRole         = "the target position"
)

type Options struct {
	// DisabledSteps lists cleaning steps to skip for generated questions.
	DisabledSteps []string
	MaxLogLength  int
}

// LLMProvider implements Provider on top of a text Generator.
type LLMProvider struct {
	generator     Generator
	disabledSteps []string
	maxLogLen     int
	logger        *zap.Logger
}

func NewLLMProvider(generator Generator, opts Options, logger *zap.Logger) *LLMProvider {
	if opts.MaxLogLength <= 0 {
		opts.MaxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LLMProvider{
		generator:     generator,
		disabledSteps: append([]string(nil), opts.DisabledSteps...),
		maxLogLen:     opts.MaxLogLength,
		logger:        logger,
	}
}

func (p *LLMProvider) GenerateQuestions(ctx context.Context, resume, jobDescription string, count int) ([]string, error) {
	message := render(questionsTemplate, map[string]string{
		"COUNT":           strconv.Itoa(count),
		"RESUME":          truncateRunes(resume, maxResumeRunes),
		"JOB_DESCRIPTION": truncateRunes(jobDescription, maxJobRunes),
	})

	raw, err := p.generate(ctx, "questions", message)
	if err != nil {
		return nil, err
	}

	steps := cleaning.Default()
	for _, name := range p.disabledSteps {
		cleaning.DisableByName(steps, name, "disabled in configuration")
	}

	questions, err := cleaning.Run(cleaning.Deps{Logger: p.logger, Limit: count}, steps, parseQuestions(raw))
	if err != nil {
		return nil, fmt.Errorf("clean questions: %w", err)
	}

	if len(questions) == 0 {
		return nil, fmt.Errorf("%w: no questions in response", ErrMalformedResponse)
	}

	return questions, nil
}

func (p *LLMProvider) EvaluateAnswer(ctx context.Context, question, answer, role string) (*Evaluation, error) {
	if strings.TrimSpace(role) == "" {
		role = defaultRole
	}

	message := render(evaluateTemplate, map[string]string{
		"ROLE":     role,
		"QUESTION": question,
		"ANSWER":   answer,
	})

	raw, err := p.generate(ctx, "evaluate", message)
	if err != nil {
		return nil, err
	}

	evaluation, err := parseEvaluation(raw)
	if err != nil {
		return nil, err
	}

	return evaluation, nil
}

func (p *LLMProvider) AnalyzeInterview(ctx context.Context, questions, answers []string, resume, jobDescription string) (string, error) {
	message := render(analyzeTemplate, map[string]string{
		"RESUME":          truncateRunes(resume, maxResumeRunes),
		"JOB_DESCRIPTION": truncateRunes(jobDescription, maxJobRunes),
		"TRANSCRIPT":      transcript(questions, answers),
	})

	raw, err := p.generate(ctx, "analyze", message)
	if err != nil {
		return "", err
	}

	report := strings.TrimSpace(raw)
	if report == "" {
		return "", fmt.Errorf("%w: empty analysis", ErrMalformedResponse)
	}

	return report, nil
}

func (p *LLMProvider) generate(ctx context.Context, operation, message string) (string, error) {
	p.logger.Debug("generate content request",
		logger.Operation(operation),
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
		zap.String("prompt_preview", utils.TruncateForLog(message, p.maxLogLen)),
	)

	raw, err := p.generator.GenerateContent(ctx, systemPrompt, message)
	if err != nil {
		return "", err
	}

	p.logger.Debug("generate content response",
		logger.Operation(operation),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, p.maxLogLen)),
	)

	return raw, nil
}

// render fills {{KEY}} placeholders in one pass. Inserted values are never
// scanned again, so user text containing a placeholder stays as written.
func render(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{{"+key+"}}", strings.TrimSpace(value))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func transcript(questions, answers []string) string {
	var b strings.Builder
	for i, q := range questions {
		answer := ""
		if i < len(answers) {
			answer = strings.TrimSpace(answers[i])
		}
		if answer == "" {
			answer = "(no answer)"
		}
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n\n", i+1, q, i+1, answer)
	}
	return strings.TrimSpace(b.String())
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
