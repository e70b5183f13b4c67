package ai

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed fallback.yaml
var defaultFallbackYAML []byte

// Fallbacks is the canned content served when the provider cannot be reached.
type Fallbacks struct {
	Questions []string `yaml:"questions"`
	// Evaluation is returned by the fail-open provider.
	Evaluation Evaluation `yaml:"evaluation"`
	// Answer is recorded by the orchestrator when scoring a live answer fails.
	Answer   Evaluation       `yaml:"answer"`
	Analysis AnalysisTemplate `yaml:"analysis"`
}

type AnalysisTemplate struct {
	Header string         `yaml:"header"`
	Tiers  []AnalysisTier `yaml:"tiers"`
}

type AnalysisTier struct {
	Min  int    `yaml:"min"`
	Text string `yaml:"text"`
}

// DefaultFallbacks returns the built-in fallback content.
func DefaultFallbacks() Fallbacks {
	fallbacks, err := decodeFallbacks(bytes.NewReader(defaultFallbackYAML), Fallbacks{})
	if err != nil {
		panic(fmt.Sprintf("embedded fallback content is invalid: %v", err))
	}
	return fallbacks
}

// LoadFallbacks decodes fallback content on top of the built-in defaults, so
// a file may override only some sections.
func LoadFallbacks(r io.Reader) (Fallbacks, error) {
	return decodeFallbacks(r, DefaultFallbacks())
}

func decodeFallbacks(r io.Reader, base Fallbacks) (Fallbacks, error) {
	fallbacks := base
	if err := yaml.NewDecoder(r).Decode(&fallbacks); err != nil && !errors.Is(err, io.EOF) {
		return Fallbacks{}, fmt.Errorf("decode fallbacks: %w", err)
	}

	if len(fallbacks.Questions) == 0 {
		return Fallbacks{}, errors.New("fallbacks must contain at least one question")
	}

	tiers := append([]AnalysisTier(nil), fallbacks.Analysis.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].Min > tiers[j].Min
	})
	fallbacks.Analysis.Tiers = tiers

	return fallbacks, nil
}

// Report builds the local interview report from the completion rate.
func (f Fallbacks) Report(answered, total int) string {
	rate := 0
	if total > 0 {
		rate = int(math.Round(float64(answered) * 100 / float64(total)))
	}

	header := strings.NewReplacer(
		"{{ANSWERED}}", strconv.Itoa(answered),
		"{{TOTAL}}", strconv.Itoa(total),
		"{{RATE}}", strconv.Itoa(rate),
	).Replace(strings.TrimSpace(f.Analysis.Header))

	parts := []string{}
	if header != "" {
		parts = append(parts, header)
	}
	for _, tier := range f.Analysis.Tiers {
		if rate >= tier.Min {
			parts = append(parts, strings.TrimSpace(tier.Text))
			break
		}
	}

	return strings.Join(parts, "\n\n")
}

// FailOpen wraps a Provider and converts every failure into fallback content.
type FailOpen struct {
	provider  Provider
	fallbacks Fallbacks
	logger    *zap.Logger
}

func NewFailOpen(provider Provider, fallbacks Fallbacks, logger *zap.Logger) *FailOpen {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FailOpen{provider: provider, fallbacks: fallbacks, logger: logger}
}

func (f *FailOpen) GenerateQuestions(ctx context.Context, resume, jobDescription string, count int) ([]string, error) {
	if f.provider != nil {
		questions, err := f.provider.GenerateQuestions(ctx, resume, jobDescription, count)
		if err == nil && len(questions) > 0 {
			return questions, nil
		}
		f.logger.Warn("question generation failed, using fallback questions", zap.Error(err))
	}

	return append([]string(nil), f.fallbacks.Questions...), nil
}

func (f *FailOpen) EvaluateAnswer(ctx context.Context, question, answer, role string) (*Evaluation, error) {
	if f.provider != nil {
		evaluation, err := f.provider.EvaluateAnswer(ctx, question, answer, role)
		if err == nil && evaluation != nil {
			return evaluation, nil
		}
		f.logger.Warn("answer evaluation failed, using fallback evaluation", zap.Error(err))
	}

	fallback := f.fallbacks.Evaluation
	return &fallback, nil
}

func (f *FailOpen) AnalyzeInterview(ctx context.Context, questions, answers []string, resume, jobDescription string) (string, error) {
	if f.provider != nil {
		report, err := f.provider.AnalyzeInterview(ctx, questions, answers, resume, jobDescription)
		if err == nil && strings.TrimSpace(report) != "" {
			return report, nil
		}
		f.logger.Warn("interview analysis failed, using local report", zap.Error(err))
	}

	answered := 0
	for _, answer := range answers {
		if strings.TrimSpace(answer) != "" {
			answered++
		}
	}

	return f.fallbacks.Report(answered, len(questions)), nil
}
