// Package feedback builds the end-of-interview report from persisted data.
package feedback

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/interview-coach/internal/ai"
	"github.com/spigell/interview-coach/internal/logger"
	"github.com/spigell/interview-coach/internal/session"
	"github.com/spigell/interview-coach/internal/store"
)

// Analyst scores answers and writes the overall narrative. The fail-open
// provider is expected here so Build never fails on provider errors.
type Analyst interface {
	EvaluateAnswer(ctx context.Context, question, answer, role string) (*ai.Evaluation, error)
	AnalyzeInterview(ctx context.Context, questions, answers []string, resume, jobDescription string) (string, error)
}

type Row struct {
	Index    int
	Question string
	Answer   string
	// Evaluation is nil for unanswered questions.
	Evaluation *session.Evaluation
	// Rechecked marks an evaluation computed for the report rather than loaded.
	Rechecked bool
}

type Report struct {
	Rows           []Row
	Answered       int
	Total          int
	CompletionRate int
	AverageScore   float64
	Analysis       string
}

type Input struct {
	Snapshot       *store.Snapshot
	Resume         string
	JobDescription string
	Role           string
}

// Build re-derives the report from a snapshot. Answered questions without a
// stored evaluation are scored again through analyst.
func Build(ctx context.Context, in Input, analyst Analyst, log *zap.Logger) (*Report, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if in.Snapshot == nil {
		return nil, store.ErrNoSnapshot
	}

	questions := in.Snapshot.Questions
	report := &Report{Total: len(questions), Rows: make([]Row, 0, len(questions))}

	// Dropped entries shift later evaluations, so a short list cannot be
	// matched to questions by position.
	evaluations := in.Snapshot.Evaluations
	if len(evaluations) != len(questions) {
		if len(evaluations) > 0 {
			log.Warn("stored evaluations do not match questions, re-checking answers",
				zap.Int("evaluations", len(evaluations)),
				zap.Int("questions", len(questions)),
			)
		}
		evaluations = nil
	}

	var scoreSum int
	for i, question := range questions {
		row := Row{Index: i, Question: question}
		if i < len(in.Snapshot.Answers) {
			row.Answer = strings.TrimSpace(in.Snapshot.Answers[i])
		}

		if row.Answer != "" {
			report.Answered++

			if i < len(evaluations) && evaluations[i].Feedback != "" {
				evaluation := evaluations[i]
				row.Evaluation = &evaluation
			} else {
				evaluation, err := analyst.EvaluateAnswer(ctx, question, row.Answer, in.Role)
				if err != nil || evaluation == nil {
					log.Warn("re-checking answer failed", zap.Int(logger.FieldQuestion, i), zap.Error(err))
				} else {
					row.Evaluation = &session.Evaluation{
						Score:    session.NormalizeScore(evaluation.Score),
						Feedback: evaluation.Feedback,
					}
					row.Rechecked = true
				}
			}
		}

		if row.Evaluation != nil {
			scoreSum += row.Evaluation.Score
		}
		report.Rows = append(report.Rows, row)
	}

	if report.Total > 0 {
		report.CompletionRate = int(math.Round(float64(report.Answered) * 100 / float64(report.Total)))
	}

	scored := report.Scored()
	if scored > 0 {
		report.AverageScore = math.Round(float64(scoreSum)/float64(scored)*10) / 10
	}

	answers := make([]string, len(questions))
	for i, row := range report.Rows {
		answers[i] = row.Answer
	}

	analysis, err := analyst.AnalyzeInterview(ctx, questions, answers, in.Resume, in.JobDescription)
	if err != nil {
		log.Warn("interview analysis failed", zap.Error(err))
	}
	report.Analysis = strings.TrimSpace(analysis)

	return report, nil
}

// Scored returns the number of rows carrying an evaluation.
func (r *Report) Scored() int {
	n := 0
	for _, row := range r.Rows {
		if row.Evaluation != nil {
			n++
		}
	}
	return n
}

func (r *Report) Render(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "Interview feedback\n\n")
	fmt.Fprintf(&b, "Answered: %d of %d (%d%%)\n", r.Answered, r.Total, r.CompletionRate)
	if r.Scored() > 0 {
		fmt.Fprintf(&b, "Average score: %.1f/10\n", r.AverageScore)
	}

	for _, row := range r.Rows {
		fmt.Fprintf(&b, "\n%d. %s\n", row.Index+1, row.Question)
		if row.Answer == "" {
			b.WriteString("   Not answered\n")
			continue
		}
		fmt.Fprintf(&b, "   Answer: %s\n", row.Answer)
		if row.Evaluation == nil {
			continue
		}
		fmt.Fprintf(&b, "   Score: %d/10\n", row.Evaluation.Score)
		if row.Evaluation.Feedback != "" {
			fmt.Fprintf(&b, "   Feedback: %s\n", row.Evaluation.Feedback)
		}
	}

	if r.Analysis != "" {
		fmt.Fprintf(&b, "\nOverall\n\n%s\n", r.Analysis)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
