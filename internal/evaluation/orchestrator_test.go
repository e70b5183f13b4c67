package evaluation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/interview-coach/internal/ai"
	"github.com/spigell/interview-coach/internal/session"
	"github.com/spigell/interview-coach/internal/timing"
)

type evaluatorFunc func(ctx context.Context, question, answer, role string) (*ai.Evaluation, error)

func (f evaluatorFunc) EvaluateAnswer(ctx context.Context, question, answer, role string) (*ai.Evaluation, error) {
	return f(ctx, question, answer, role)
}

func scoring(score int, feedback string) evaluatorFunc {
	return func(context.Context, string, string, string) (*ai.Evaluation, error) {
		return &ai.Evaluation{Score: score, Feedback: feedback}, nil
	}
}

// immediate fires every timer on its own goroutine right away.
type immediate struct{}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }

func (immediate) AfterFunc(_ time.Duration, f func()) timing.Timer {
	go f()
	return noopTimer{}
}

func newSession(t *testing.T, questions ...string) *session.Session {
	t.Helper()
	s, err := session.New(questions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func newOrchestrator(t *testing.T, s *session.Session, evaluator Evaluator) *Orchestrator {
	t.Helper()
	o, err := New(Options{Session: s, Evaluator: evaluator, Scheduler: immediate{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return o
}

func TestNewRequiresSessionAndEvaluator(t *testing.T) {
	if _, err := New(Options{Evaluator: scoring(1, "x")}); err == nil {
		t.Fatalf("expected error without session")
	}
	if _, err := New(Options{Session: newSession(t, "Q1")}); err == nil {
		t.Fatalf("expected error without evaluator")
	}
}

func TestSubmitRejectsBlankAnswersAndBadIndexes(t *testing.T) {
	s := newSession(t, "Q1")
	o := newOrchestrator(t, s, scoring(8, "good"))

	if _, err := o.Submit(context.Background(), 0, "   ", SourceSpeech); !errors.Is(err, ErrNoSpeechDetected) {
		t.Fatalf("expected ErrNoSpeechDetected, got %v", err)
	}
	if s.Answers()[0] != "" {
		t.Fatalf("blank answer must not be recorded")
	}

	for _, index := range []int{-1, 1} {
		if _, err := o.Submit(context.Background(), index, "answer", SourceTyped); !errors.Is(err, ErrInvalidIndex) {
			t.Fatalf("index %d: expected ErrInvalidIndex, got %v", index, err)
		}
	}
}

func TestSubmitRecordsFallbackWhenScoringFails(t *testing.T) {
	s := newSession(t, "Q1", "Q2")
	core, logs := observer.New(zapcore.WarnLevel)

	o, err := New(Options{
		Session: s,
		Evaluator: evaluatorFunc(func(context.Context, string, string, string) (*ai.Evaluation, error) {
			return nil, ai.ErrProviderUnavailable
		}),
		Scheduler: immediate{},
		Logger:    zap.New(core),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := o.Submit(context.Background(), 0, "I'm a developer", SourceSpeech)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != OutcomeFallback {
		t.Fatalf("expected fallback outcome, got %s", result.Outcome)
	}

	want := session.Evaluation{Score: FallbackScore, Feedback: FallbackFeedback}
	if got := s.Evaluations()[0]; got != want {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
	if s.Answers()[0] != "I'm a developer" {
		t.Fatalf("unexpected answer: %q", s.Answers()[0])
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning, got %d", logs.Len())
	}

	s.Advance()
	if s.CurrentIndex() != 1 || s.IsComplete() {
		t.Fatalf("expected to move to the second question without completing")
	}
}

func TestSubmitNormalizesScoreAndCompletesOnLastQuestion(t *testing.T) {
	s := newSession(t, "Only question")
	var gotRole string
	o, err := New(Options{
		Session: s,
		Evaluator: evaluatorFunc(func(_ context.Context, _, _, role string) (*ai.Evaluation, error) {
			gotRole = role
			return &ai.Evaluation{Score: 85, Feedback: "  Clear and structured.  "}, nil
		}),
		Scheduler: immediate{},
		Role:      "Backend engineer",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := o.Submit(context.Background(), 0, "answer", SourceTyped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Outcome != OutcomeScored || result.Evaluation.Score != 8 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := s.Evaluations()[0]; got.Score != 8 || got.Feedback != "Clear and structured." {
		t.Fatalf("unexpected stored evaluation: %+v", got)
	}
	if gotRole != "Backend engineer" {
		t.Fatalf("unexpected role: %q", gotRole)
	}
	if !s.IsComplete() {
		t.Fatalf("expected session to be complete")
	}
	if o.Status().Waiting {
		t.Fatalf("expected waiting to be cleared")
	}
}

func TestCodeQuestionRequiresCodeSubmission(t *testing.T) {
	s := newSession(t, "Write a SQL query to find duplicates", "Q2")
	calls := 0
	o := newOrchestrator(t, s, evaluatorFunc(func(context.Context, string, string, string) (*ai.Evaluation, error) {
		calls++
		return &ai.Evaluation{Score: 9, Feedback: "correct"}, nil
	}))

	result, err := o.Submit(context.Background(), 0, "I would group by email", SourceSpeech)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeNeedsCode {
		t.Fatalf("expected code request, got %s", result.Outcome)
	}
	if !o.Status().NeedsCodeInput {
		t.Fatalf("expected code input to be requested")
	}
	if s.Answers()[0] != "I would group by email" {
		t.Fatalf("expected spoken answer to be saved")
	}
	if calls != 0 {
		t.Fatalf("expected no evaluation before code submission")
	}

	code := "SELECT email FROM users GROUP BY email HAVING COUNT(*) > 1"
	result, err = o.Submit(context.Background(), 0, code, SourceCode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeScored || s.Evaluations()[0].Score != 9 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if s.Answers()[0] != code {
		t.Fatalf("expected code to replace the answer")
	}
	if o.Status().NeedsCodeInput {
		t.Fatalf("expected code request to be cleared")
	}
}

func TestClearCodeRequest(t *testing.T) {
	s := newSession(t, "Implement a stack")
	o := newOrchestrator(t, s, scoring(5, "ok"))

	if _, err := o.Submit(context.Background(), 0, "with a slice", SourceTyped); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o.ClearCodeRequest()
	if o.Status().NeedsCodeInput {
		t.Fatalf("expected code request to be cleared")
	}
}

func TestStaleEvaluationIsDropped(t *testing.T) {
	s := newSession(t, "Q1", "Q2")
	o := newOrchestrator(t, s, evaluatorFunc(func(context.Context, string, string, string) (*ai.Evaluation, error) {
		s.Advance()
		return &ai.Evaluation{Score: 9, Feedback: "late"}, nil
	}))

	result, err := o.Submit(context.Background(), 0, "answer", SourceTyped)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeStale {
		t.Fatalf("expected stale outcome, got %s", result.Outcome)
	}
	if got := s.Evaluations()[0]; got != (session.Evaluation{}) {
		t.Fatalf("expected no evaluation stored, got %+v", got)
	}
	if s.Answers()[0] != "answer" {
		t.Fatalf("expected answer to be kept")
	}
}

func TestSubmitWhileWaitingIsBusy(t *testing.T) {
	s := newSession(t, "Q1")
	entered := make(chan struct{})
	release := make(chan struct{})
	o := newOrchestrator(t, s, evaluatorFunc(func(context.Context, string, string, string) (*ai.Evaluation, error) {
		close(entered)
		<-release
		return &ai.Evaluation{Score: 6, Feedback: "fine"}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), 0, "first", SourceTyped)
		done <- err
	}()

	<-entered
	if !o.Status().Waiting {
		t.Fatalf("expected waiting state")
	}
	if _, err := o.Submit(context.Background(), 0, "second", SourceTyped); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Answers()[0] != "first" {
		t.Fatalf("busy submission must not overwrite the answer")
	}
}

func TestSubmitWaitsForMinimumDelay(t *testing.T) {
	s := newSession(t, "Q1", "Q2")
	mock := clock.NewMock()
	o, err := New(Options{
		Session:   s,
		Evaluator: scoring(7, "ok"),
		Scheduler: timing.New(mock),
		MinDelay:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), 0, "answer", SourceTyped)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for s.Evaluations()[0].Score == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("evaluation was not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-done:
		t.Fatalf("submit returned before the minimum delay")
	case <-time.After(50 * time.Millisecond):
	}
	if !o.Status().Waiting {
		t.Fatalf("expected waiting until the delay elapses")
	}

	mock.Add(2 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("submit did not return after the delay")
	}
}

func TestCloseUnblocksWaitingSubmit(t *testing.T) {
	s := newSession(t, "Q1")
	entered := make(chan struct{})
	release := make(chan struct{})
	returned := make(chan struct{})
	o := newOrchestrator(t, s, evaluatorFunc(func(context.Context, string, string, string) (*ai.Evaluation, error) {
		close(entered)
		<-release
		defer close(returned)
		return &ai.Evaluation{Score: 9, Feedback: "late"}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(context.Background(), 0, "answer", SourceTyped)
		done <- err
	}()

	<-entered
	if err := o.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("close did not unblock submit")
	}

	close(release)
	<-returned

	if got := s.Evaluations()[0]; got != (session.Evaluation{}) {
		t.Fatalf("expected late result to be ignored, got %+v", got)
	}
	if s.IsComplete() {
		t.Fatalf("closed orchestrator must not complete the session")
	}
	if _, err := o.Submit(context.Background(), 0, "again", SourceTyped); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("expected repeated close to succeed, got %v", err)
	}
}

func TestCancelDuringEvaluationIgnoresResult(t *testing.T) {
	s := newSession(t, "Q1")
	entered := make(chan struct{})
	release := make(chan struct{})
	o := newOrchestrator(t, s, evaluatorFunc(func(context.Context, string, string, string) (*ai.Evaluation, error) {
		close(entered)
		<-release
		return &ai.Evaluation{Score: 9, Feedback: "late"}, nil
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Submit(ctx, 0, "answer", SourceTyped)
		done <- err
	}()

	<-entered
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if o.Status().Waiting {
		t.Fatalf("expected waiting to be cleared")
	}
	if s.Answers()[0] != "answer" {
		t.Fatalf("expected the answer to stay recorded")
	}
}

func TestSubmitHonoursContextCancellation(t *testing.T) {
	s := newSession(t, "Q1")
	mock := clock.NewMock()
	o, err := New(Options{Session: s, Evaluator: scoring(8, "good"), Scheduler: timing.New(mock)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	var submitErr error
	go func() {
		defer wg.Done()
		_, submitErr = o.Submit(ctx, 0, "answer", SourceTyped)
	}()

	deadline := time.Now().Add(time.Second)
	for s.Evaluations()[0].Score == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("evaluation was not recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	wg.Wait()

	if !errors.Is(submitErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", submitErr)
	}
	if s.IsComplete() {
		t.Fatalf("interrupted wait must not complete the session")
	}
	if o.Status().Waiting {
		t.Fatalf("expected waiting to be cleared")
	}
}

func TestProcessingMessageRotates(t *testing.T) {
	o := newOrchestrator(t, newSession(t, "Q1"), scoring(1, "x"))

	if o.ProcessingMessage(0) != processingMessages[0] {
		t.Fatalf("unexpected first message")
	}
	if o.ProcessingMessage(len(processingMessages)) != processingMessages[0] {
		t.Fatalf("expected rotation to wrap")
	}
	if o.ProcessingMessage(-1) != processingMessages[1] {
		t.Fatalf("expected negative counters to be accepted")
	}
}
