// Package interview drives one practice interview: question generation, answer
// capture, evaluation and persistence.
package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/interview-coach/internal/capture"
	"github.com/spigell/interview-coach/internal/evaluation"
	"github.com/spigell/interview-coach/internal/logger"
	"github.com/spigell/interview-coach/internal/session"
	"github.com/spigell/interview-coach/internal/store"
	"github.com/spigell/interview-coach/internal/timing"
)

const DefaultQuestionCount = 8

var ErrNotStarted = errors.New("interview has not started")

// QuestionSource produces the question list for a resume and job description.
type QuestionSource interface {
	GenerateQuestions(ctx context.Context, resume, jobDescription string, count int) ([]string, error)
}

type Options struct {
	Store       store.KV
	Questions   QuestionSource
	Evaluator   evaluation.Evaluator
	Coordinator *capture.Coordinator

	Classifier    evaluation.Classifier
	Scheduler     timing.Scheduler
	MinDelay      time.Duration
	Role          string
	Fallback      session.Evaluation
	QuestionCount int

	Logger *zap.Logger
}

type Controller struct {
	opts   Options
	logger *zap.Logger

	mu           sync.Mutex
	session      *session.Session
	orchestrator *evaluation.Orchestrator
	closed       bool
}

func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Questions == nil {
		return nil, errors.New("question source is required")
	}
	if opts.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Coordinator == nil {
		opts.Coordinator = capture.NewCoordinator(capture.Options{Scheduler: opts.Scheduler, Logger: opts.Logger})
	}
	if opts.QuestionCount <= 0 {
		opts.QuestionCount = DefaultQuestionCount
	}

	return &Controller{opts: opts, logger: opts.Logger}, nil
}

// Begin loads the stored resume and job description and starts a session with
// freshly generated questions.
func (c *Controller) Begin(ctx context.Context) error {
	resume, jobDescription, err := store.LoadPrerequisites(c.opts.Store)
	if err != nil {
		return err
	}

	questions, err := c.opts.Questions.GenerateQuestions(ctx, resume, jobDescription, c.opts.QuestionCount)
	if err != nil {
		return fmt.Errorf("generate questions: %w", err)
	}

	s, err := session.New(questions)
	if err != nil {
		return err
	}

	return c.start(s, "interview started")
}

// Resume continues the interview saved in the store from its first
// unanswered question. It returns store.ErrNoSnapshot when nothing was saved.
func (c *Controller) Resume() error {
	snapshot, err := store.Load(c.opts.Store)
	if err != nil {
		return err
	}

	s, err := session.Restore(snapshot.Questions, snapshot.Answers, snapshot.Evaluations)
	if err != nil {
		return err
	}

	return c.start(s, "interview resumed")
}

func (c *Controller) start(s *session.Session, message string) error {
	orchestrator, err := evaluation.New(evaluation.Options{
		Session:    s,
		Evaluator:  c.opts.Evaluator,
		Classifier: c.opts.Classifier,
		Scheduler:  c.opts.Scheduler,
		MinDelay:   c.opts.MinDelay,
		Role:       c.opts.Role,
		Fallback:   c.opts.Fallback,
		Logger:     c.opts.Logger,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		orchestrator.Close()
		return capture.ErrClosed
	}
	if c.orchestrator != nil {
		c.orchestrator.Close()
	}
	c.session = s
	c.orchestrator = orchestrator
	c.logger = logger.WithSession(c.opts.Logger, s.ID())

	c.logger.Info(message,
		zap.Int("questions", s.Len()),
		zap.Int(logger.FieldQuestion, s.CurrentIndex()),
	)

	return nil
}

func (c *Controller) state() (*session.Session, *evaluation.Orchestrator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil, ErrNotStarted
	}
	return c.session, c.orchestrator, nil
}

// Session returns the running session or nil before Begin.
func (c *Controller) Session() *session.Session {
	s, _, _ := c.state()
	return s
}

// Current returns the current question and records it as the one on screen.
func (c *Controller) Current() (int, string, bool) {
	s, _, err := c.state()
	if err != nil {
		return 0, "", false
	}

	index := s.CurrentIndex()
	question, ok := s.Current()
	if !ok {
		return index, "", false
	}

	if err := store.SaveCurrentQuestion(c.opts.Store, index, question); err != nil {
		c.logger.Warn("saving current question", zap.Int(logger.FieldQuestion, index), zap.Error(err))
	}

	return index, question, true
}

func (c *Controller) ReadQuestion() error {
	_, question, ok := c.Current()
	if !ok {
		return ErrNotStarted
	}
	return c.opts.Coordinator.ReadAloud(question)
}

// ReplayQuestion speaks the current question again, even if it was just read.
func (c *Controller) ReplayQuestion() error {
	_, question, ok := c.Current()
	if !ok {
		return ErrNotStarted
	}
	return c.opts.Coordinator.Replay(question)
}

func (c *Controller) ToggleMute() bool { return c.opts.Coordinator.ToggleMute() }

func (c *Controller) SpeechSupported() bool { return c.opts.Coordinator.SpeechSupported() }

func (c *Controller) Capture() capture.State { return c.opts.Coordinator.State() }

func (c *Controller) Status() evaluation.Status {
	_, orchestrator, err := c.state()
	if err != nil {
		return evaluation.Status{}
	}
	return orchestrator.Status()
}

func (c *Controller) ProcessingMessage(n int) string {
	_, orchestrator, err := c.state()
	if err != nil {
		return ""
	}
	return orchestrator.ProcessingMessage(n)
}

func (c *Controller) StartRecording(ctx context.Context) error {
	if _, _, err := c.state(); err != nil {
		return err
	}
	return c.opts.Coordinator.StartRecording(ctx)
}

// FinishRecording stops recording and submits the transcript as a spoken
// answer. Without speech it returns evaluation.ErrNoSpeechDetected and leaves
// the session untouched.
func (c *Controller) FinishRecording(ctx context.Context) (evaluation.Result, error) {
	if _, _, err := c.state(); err != nil {
		return evaluation.Result{}, err
	}

	text, err := c.opts.Coordinator.StopRecording()
	if errors.Is(err, capture.ErrNoSpeechDetected) {
		return evaluation.Result{}, evaluation.ErrNoSpeechDetected
	}
	if err != nil {
		return evaluation.Result{}, err
	}

	return c.submit(ctx, text, evaluation.SourceSpeech)
}

func (c *Controller) SubmitTyped(ctx context.Context, answer string) (evaluation.Result, error) {
	return c.submit(ctx, answer, evaluation.SourceTyped)
}

func (c *Controller) SubmitCode(ctx context.Context, code string) (evaluation.Result, error) {
	return c.submit(ctx, code, evaluation.SourceCode)
}

func (c *Controller) submit(ctx context.Context, answer string, source evaluation.Source) (evaluation.Result, error) {
	s, orchestrator, err := c.state()
	if err != nil {
		return evaluation.Result{}, err
	}
	return orchestrator.Submit(ctx, s.CurrentIndex(), answer, source)
}

// Next saves a snapshot and moves to the following question. On the last
// question the session becomes complete instead.
func (c *Controller) Next() error {
	s, orchestrator, err := c.state()
	if err != nil {
		return err
	}
	if orchestrator.Status().Waiting {
		return evaluation.ErrBusy
	}

	if err := c.save(s); err != nil {
		return err
	}

	s.Advance()
	c.opts.Coordinator.ResetTranscript()
	orchestrator.ClearCodeRequest()

	c.logger.Debug("moved to next question", zap.Int(logger.FieldQuestion, s.CurrentIndex()), zap.Bool("complete", s.IsComplete()))

	return nil
}

func (c *Controller) Complete() bool {
	s, _, err := c.state()
	return err == nil && s.IsComplete()
}

// Finish saves the final snapshot for the feedback view.
func (c *Controller) Finish() error {
	s, _, err := c.state()
	if err != nil {
		return err
	}
	if err := c.save(s); err != nil {
		return err
	}

	c.logger.Info("interview finished",
		zap.Int("answered", s.AnsweredCount()),
		zap.Int("questions", s.Len()),
	)

	return nil
}

func (c *Controller) save(s *session.Session) error {
	if err := store.Save(c.opts.Store, s.Questions(), s.Answers(), s.Evaluations()); err != nil {
		return fmt.Errorf("save interview: %w", err)
	}
	return nil
}

// Close releases the capture channels and evaluation timers. It is safe to
// call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	orchestrator := c.orchestrator
	c.mu.Unlock()

	var errs []error
	if orchestrator != nil {
		errs = append(errs, orchestrator.Close())
	}
	errs = append(errs, c.opts.Coordinator.Close())

	return errors.Join(errs...)
}
