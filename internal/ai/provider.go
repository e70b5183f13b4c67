// Package ai defines the question and evaluation provider used by an
// interview session and its LLM-backed implementations.
package ai

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable marks transport failures and non-2xx responses.
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	// ErrMalformedResponse marks responses no usable fields could be extracted from.
	ErrMalformedResponse = errors.New("malformed ai provider response")
)

// Evaluation is a raw score and feedback as returned by the provider. Scores
// are normalized when they are recorded into a session.
type Evaluation struct {
	Score    int    `json:"score" yaml:"score"`
	Feedback string `json:"feedback" yaml:"feedback"`
}

type Provider interface {
	GenerateQuestions(ctx context.Context, resume, jobDescription string, count int) ([]string, error)
	EvaluateAnswer(ctx context.Context, question, answer, role string) (*Evaluation, error)
	AnalyzeInterview(ctx context.Context, questions, answers []string, resume, jobDescription string) (string, error)
}

// Generator produces text for a system instruction and a user message.
type Generator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}
