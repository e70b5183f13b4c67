package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/interview-coach/internal/session"
)

const (
	KeyResume         = "resume"
	KeyJobDescription = "jobDescription"
	KeyQuestions      = "interviewQuestions"
	KeyAnswers        = "interviewAnswers"
	KeyEvaluations    = "interviewEvaluations"
	KeyCurrent        = "currentQuestion"
	KeyCurrentIndex   = "currentQuestionIndex"
)

var (
	ErrMissingPrerequisite = errors.New("resume and job description are required")
	ErrNoSnapshot          = errors.New("no interview data saved")
)

// Snapshot is the persisted state of one interview.
type Snapshot struct {
	Questions   []string
	Answers     []string
	Evaluations []session.Evaluation
}

// CurrentQuestion is the question the session view shows.
type CurrentQuestion struct {
	Index    int
	Question string
}

// Save serializes the three sequences and overwrites any previous snapshot.
func Save(kv KV, questions, answers []string, evaluations []session.Evaluation) error {
	values := []struct {
		key   string
		value any
	}{
		{KeyQuestions, nonNil(questions)},
		{KeyAnswers, nonNil(answers)},
		{KeyEvaluations, evaluations},
	}

	for _, v := range values {
		data, err := json.Marshal(v.value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", v.key, err)
		}
		if err := kv.Set(v.key, string(data)); err != nil {
			return fmt.Errorf("store %s: %w", v.key, err)
		}
	}

	return nil
}

// Load restores a snapshot. Evaluations that are not well-formed
// {score, feedback} objects are dropped; questions and answers are kept as is.
func Load(kv KV) (*Snapshot, error) {
	var snapshot Snapshot

	found, err := loadJSON(kv, KeyQuestions, &snapshot.Questions)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoSnapshot
	}

	if _, err := loadJSON(kv, KeyAnswers, &snapshot.Answers); err != nil {
		return nil, err
	}

	// A corrupted evaluations value loses the evaluations only.
	var rawEvaluations []any
	if _, err := loadJSON(kv, KeyEvaluations, &rawEvaluations); err != nil && !isDecodeError(err) {
		return nil, err
	}
	snapshot.Evaluations = filterEvaluations(rawEvaluations)

	if snapshot.Questions == nil {
		snapshot.Questions = []string{}
	}
	if snapshot.Answers == nil {
		snapshot.Answers = []string{}
	}

	return &snapshot, nil
}

func filterEvaluations(raw []any) []session.Evaluation {
	evaluations := make([]session.Evaluation, 0, len(raw))
	for _, item := range raw {
		if evaluation, ok := decodeEvaluation(item); ok {
			evaluations = append(evaluations, evaluation)
		}
	}
	return evaluations
}

func decodeEvaluation(item any) (session.Evaluation, bool) {
	fields, ok := item.(map[string]any)
	if !ok {
		return session.Evaluation{}, false
	}

	// mapstructure skips null values without reporting them as unset.
	for _, key := range evaluationFields {
		if fields[key] == nil {
			return session.Evaluation{}, false
		}
	}

	var (
		evaluation session.Evaluation
		metadata   mapstructure.Metadata
	)

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     &evaluation,
		Metadata:   &metadata,
		DecodeHook: roundScore,
	})
	if err != nil {
		return session.Evaluation{}, false
	}

	if err := decoder.Decode(fields); err != nil {
		return session.Evaluation{}, false
	}

	if len(metadata.Unset) > 0 {
		return session.Evaluation{}, false
	}

	return evaluation, true
}

var evaluationFields = []string{"score", "feedback"}

// roundScore rounds fractional scores instead of letting them truncate.
func roundScore(from, to reflect.Kind, data any) (any, error) {
	if from == reflect.Float64 && to == reflect.Int {
		return math.Round(data.(float64)), nil
	}
	return data, nil
}

func SavePrerequisites(kv KV, resume, jobDescription string) error {
	if strings.TrimSpace(resume) == "" || strings.TrimSpace(jobDescription) == "" {
		return ErrMissingPrerequisite
	}

	if err := kv.Set(KeyResume, resume); err != nil {
		return fmt.Errorf("store %s: %w", KeyResume, err)
	}
	if err := kv.Set(KeyJobDescription, jobDescription); err != nil {
		return fmt.Errorf("store %s: %w", KeyJobDescription, err)
	}

	return nil
}

// LoadPrerequisites returns the stored resume and job description text.
func LoadPrerequisites(kv KV) (string, string, error) {
	resume, _, err := kv.Get(KeyResume)
	if err != nil {
		return "", "", fmt.Errorf("load %s: %w", KeyResume, err)
	}
	jobDescription, _, err := kv.Get(KeyJobDescription)
	if err != nil {
		return "", "", fmt.Errorf("load %s: %w", KeyJobDescription, err)
	}

	if strings.TrimSpace(resume) == "" || strings.TrimSpace(jobDescription) == "" {
		return "", "", ErrMissingPrerequisite
	}

	return resume, jobDescription, nil
}

// SaveCurrentQuestion stores the displayed question as plain text and its
// index under a separate key.
func SaveCurrentQuestion(kv KV, index int, question string) error {
	if err := kv.Set(KeyCurrent, question); err != nil {
		return fmt.Errorf("store %s: %w", KeyCurrent, err)
	}
	if err := kv.Set(KeyCurrentIndex, strconv.Itoa(index)); err != nil {
		return fmt.Errorf("store %s: %w", KeyCurrentIndex, err)
	}
	return nil
}

// LoadCurrentQuestion returns the last displayed question. Index is -1 when
// no valid index was stored alongside it.
func LoadCurrentQuestion(kv KV) (*CurrentQuestion, bool, error) {
	question, found, err := kv.Get(KeyCurrent)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", KeyCurrent, err)
	}
	if !found {
		return nil, false, nil
	}

	current := CurrentQuestion{Index: -1, Question: question}

	raw, found, err := kv.Get(KeyCurrentIndex)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", KeyCurrentIndex, err)
	}
	if found {
		if index, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && index >= 0 {
			current.Index = index
		}
	}

	return &current, true, nil
}

func loadJSON(kv KV, key string, target any) (bool, error) {
	raw, found, err := kv.Get(key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !found || strings.TrimSpace(raw) == "" {
		return false, nil
	}

	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return false, &decodeError{key: key, err: err}
	}

	return true, nil
}

type decodeError struct {
	key string
	err error
}

func (e *decodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.key, e.err) }

func (e *decodeError) Unwrap() error { return e.err }

func isDecodeError(err error) bool {
	var target *decodeError
	return errors.As(err, &target)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
