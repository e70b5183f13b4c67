package session

import (
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	minScore = 0
	maxScore = 10
)

// ErrEmptyQuestionSet is returned when a session is started without questions.
var ErrEmptyQuestionSet = errors.New("empty question set")

// Evaluation is the score and feedback assigned to one answer.
type Evaluation struct {
	Score    int    `json:"score" mapstructure:"score"`
	Feedback string `json:"feedback" mapstructure:"feedback"`
}

// Session holds the state of one run through a fixed list of questions.
// Answers and evaluations are kept parallel to the questions.
type Session struct {
	id string

	mu          sync.RWMutex
	questions   []string
	answers     []string
	evaluations []Evaluation
	current     int
	complete    bool
}

// New creates a session for the given questions.
func New(questions []string) (*Session, error) {
	if len(questions) == 0 {
		return nil, ErrEmptyQuestionSet
	}

	q := make([]string, len(questions))
	copy(q, questions)

	return &Session{
		id:          uuid.NewString(),
		questions:   q,
		answers:     make([]string, len(q)),
		evaluations: make([]Evaluation, len(q)),
	}, nil
}

// Restore rebuilds a session from saved sequences and positions it at the
// first unanswered question. Answers are aligned to the questions by index.
// Evaluations are kept only when there is exactly one per question. A session
// with every question answered is restored complete.
func Restore(questions, answers []string, evaluations []Evaluation) (*Session, error) {
	s, err := New(questions)
	if err != nil {
		return nil, err
	}

	copy(s.answers, answers)
	if len(evaluations) == len(s.questions) {
		copy(s.evaluations, evaluations)
	}

	s.current = -1
	for i, answer := range s.answers {
		if strings.TrimSpace(answer) == "" {
			s.current = i
			break
		}
	}
	if s.current < 0 {
		s.current = len(s.questions) - 1
		s.complete = true
	}

	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Len() int { return len(s.questions) }

func (s *Session) LastIndex() int { return len(s.questions) - 1 }

// RecordAnswer overwrites the answer for index. Out-of-range indexes are ignored.
func (s *Session) RecordAnswer(index int, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(index) {
		return false
	}

	s.answers[index] = text
	return true
}

// RecordEvaluation stores a normalized evaluation for index. Out-of-range indexes are ignored.
func (s *Session) RecordEvaluation(index, score int, feedback string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(index) {
		return false
	}

	s.evaluations[index] = Evaluation{Score: NormalizeScore(score), Feedback: feedback}
	return true
}

// NormalizeScore maps a provider score onto 0..10. Scores above 10 are treated
// as a 0..100 scale and divided by 10, rounding halves to even, before clamping.
func NormalizeScore(raw int) int {
	score := raw
	if score > maxScore {
		score = int(math.RoundToEven(float64(raw) / 10))
	}

	return max(minScore, min(maxScore, score))
}

// Advance moves to the next question. On the last question it marks the
// session complete instead; once complete it does nothing.
func (s *Session) Advance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.complete {
		return
	}

	if s.current >= len(s.questions)-1 {
		s.complete = true
		return
	}

	s.current++
}

func (s *Session) MarkComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete = true
}

func (s *Session) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete || s.current >= len(s.questions)
}

func (s *Session) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Current returns the question at the current index.
func (s *Session) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.inRange(s.current) {
		return "", false
	}
	return s.questions[s.current], true
}

func (s *Session) Question(index int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.inRange(index) {
		return "", false
	}
	return s.questions[index], true
}

func (s *Session) Questions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.questions...)
}

func (s *Session) Answers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.answers...)
}

func (s *Session) Evaluations() []Evaluation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Evaluation(nil), s.evaluations...)
}

// AnsweredCount returns how many questions have a non-empty answer.
func (s *Session) AnsweredCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, answer := range s.answers {
		if answer != "" {
			count++
		}
	}
	return count
}

func (s *Session) inRange(index int) bool {
	return index >= 0 && index < len(s.questions)
}
