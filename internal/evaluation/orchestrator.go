// Package evaluation scores submitted answers and writes the results back into
// the interview session.
package evaluation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/interview-coach/internal/ai"
	"github.com/spigell/interview-coach/internal/logger"
	"github.com/spigell/interview-coach/internal/session"
	"github.com/spigell/interview-coach/internal/timing"
)

const (
	DefaultMinDelay = 2 * time.Second

	FallbackScore    = 5
	FallbackFeedback = "Thanks for your answer. We could not evaluate it right now, but it has been saved. Keep going!"
)

var (
	ErrBusy             = errors.New("another answer is being evaluated")
	ErrClosed           = errors.New("evaluation orchestrator is closed")
	ErrInvalidIndex     = errors.New("question index out of range")
	ErrNoSpeechDetected = errors.New("no answer to submit")
)

var processingMessages = []string{
	"Analyzing your answer...",
	"Checking the key points...",
	"Comparing with strong answers...",
	"Preparing your feedback...",
}

// Source tells how an answer was captured.
type Source int

const (
	SourceSpeech Source = iota
	SourceTyped
	SourceCode
)

func (s Source) String() string {
	switch s {
	case SourceSpeech:
		return "speech"
	case SourceTyped:
		return "typed"
	case SourceCode:
		return "code"
	default:
		return "unknown"
	}
}

type Outcome int

const (
	// OutcomeScored means the provider evaluation was recorded.
	OutcomeScored Outcome = iota
	// OutcomeFallback means scoring failed and the fallback evaluation was recorded.
	OutcomeFallback
	// OutcomeNeedsCode means the answer was saved but must be resubmitted as code.
	OutcomeNeedsCode
	// OutcomeStale means the session moved on before the result arrived.
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeScored:
		return "scored"
	case OutcomeFallback:
		return "fallback"
	case OutcomeNeedsCode:
		return "needs_code"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome    Outcome
	Evaluation session.Evaluation
}

type Status struct {
	Waiting        bool
	NeedsCodeInput bool
}

type Evaluator interface {
	EvaluateAnswer(ctx context.Context, question, answer, role string) (*ai.Evaluation, error)
}

type Options struct {
	Session    *session.Session
	Evaluator  Evaluator
	Classifier Classifier
	Scheduler  timing.Scheduler
	// MinDelay is the minimum time Submit stays in the waiting state.
	MinDelay time.Duration
	Role     string
	// Fallback is recorded when scoring fails. Zero value means
	// {FallbackScore, FallbackFeedback}.
	Fallback session.Evaluation
	Logger   *zap.Logger
}

type Orchestrator struct {
	session    *session.Session
	evaluator  Evaluator
	classifier Classifier
	scheduler  timing.Scheduler
	minDelay   time.Duration
	role       string
	fallback   session.Evaluation
	logger     *zap.Logger

	mu        sync.Mutex
	closed    bool
	closing   chan struct{}
	waiting   bool
	needsCode bool
	pacing    timing.Timer
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Session == nil {
		return nil, errors.New("session is required")
	}
	if opts.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if opts.Classifier == nil {
		opts.Classifier = KeywordClassifier{}
	}
	if opts.Scheduler == nil {
		opts.Scheduler = timing.New(nil)
	}
	if opts.MinDelay <= 0 {
		opts.MinDelay = DefaultMinDelay
	}
	if strings.TrimSpace(opts.Fallback.Feedback) == "" {
		opts.Fallback = session.Evaluation{Score: FallbackScore, Feedback: FallbackFeedback}
	}

	return &Orchestrator{
		session:    opts.Session,
		evaluator:  opts.Evaluator,
		classifier: opts.Classifier,
		scheduler:  opts.Scheduler,
		minDelay:   opts.MinDelay,
		role:       opts.Role,
		fallback:   opts.Fallback,
		logger:     logger.WithSession(opts.Logger, opts.Session.ID()),
		closing:    make(chan struct{}),
	}, nil
}

// Submit records the answer for index and scores it. Scoring failures are
// converted to the fallback evaluation and never returned as errors.
func (o *Orchestrator) Submit(ctx context.Context, index int, answer string, source Source) (Result, error) {
	if strings.TrimSpace(answer) == "" {
		return Result{}, ErrNoSpeechDetected
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Result{}, ErrClosed
	}
	if o.waiting {
		o.mu.Unlock()
		return Result{}, ErrBusy
	}

	question, ok := o.session.Question(index)
	if !ok {
		o.mu.Unlock()
		return Result{}, ErrInvalidIndex
	}

	log := o.logger.With(zap.Int(logger.FieldQuestion, index), zap.Stringer("source", source))

	o.session.RecordAnswer(index, answer)

	if source != SourceCode && o.classifier.IsCodeQuestion(question) {
		o.needsCode = true
		o.mu.Unlock()
		log.Info("code question answered as free text, requesting code input")
		return Result{Outcome: OutcomeNeedsCode}, nil
	}

	o.needsCode = false
	o.waiting = true
	paced := make(chan struct{})
	o.pacing = o.scheduler.AfterFunc(o.minDelay, func() { close(paced) })
	closing := o.closing
	o.mu.Unlock()

	// The provider call is never aborted here; an abandoned call finishes on
	// its own and its result is dropped.
	replies := make(chan reply, 1)
	go func() {
		evaluation, err := o.evaluator.EvaluateAnswer(ctx, question, answer, o.role)
		replies <- reply{evaluation: evaluation, err: err}
	}()

	var (
		result  Result
		waitErr error
	)

	select {
	case r := <-replies:
		result = o.record(log, index, r)
	case <-ctx.Done():
		waitErr = ctx.Err()
	case <-closing:
		waitErr = ErrClosed
	}

	if waitErr == nil {
		select {
		case <-paced:
		case <-ctx.Done():
			waitErr = ctx.Err()
		case <-closing:
			waitErr = ErrClosed
		}
	}

	o.mu.Lock()
	o.waiting = false
	if o.pacing != nil {
		o.pacing.Stop()
		o.pacing = nil
	}
	complete := waitErr == nil && !o.closed && result.Outcome != OutcomeStale && index == o.session.LastIndex()
	o.mu.Unlock()

	if complete {
		o.session.MarkComplete()
		log.Info("last question evaluated, session complete")
	}

	return result, waitErr
}

type reply struct {
	evaluation *ai.Evaluation
	err        error
}

// record stores the reply for index if the session is still on it.
func (o *Orchestrator) record(log *zap.Logger, index int, r reply) Result {
	outcome := OutcomeScored
	var recorded session.Evaluation

	if r.err != nil || r.evaluation == nil {
		log.Warn("answer evaluation failed, recording fallback", zap.Error(r.err))
		outcome = OutcomeFallback
		recorded = o.fallback
	} else {
		recorded = session.Evaluation{Score: r.evaluation.Score, Feedback: strings.TrimSpace(r.evaluation.Feedback)}
	}
	recorded.Score = session.NormalizeScore(recorded.Score)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || o.session.CurrentIndex() != index {
		log.Debug("dropping evaluation for a question that is no longer current")
		return Result{Outcome: OutcomeStale, Evaluation: recorded}
	}

	o.session.RecordEvaluation(index, recorded.Score, recorded.Feedback)
	log.Info("answer evaluated", zap.Int("score", recorded.Score), zap.Stringer("outcome", outcome))

	return Result{Outcome: outcome, Evaluation: recorded}
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{Waiting: o.waiting, NeedsCodeInput: o.needsCode}
}

// ProcessingMessage returns the n-th rotating message shown while waiting.
func (o *Orchestrator) ProcessingMessage(n int) string {
	if n < 0 {
		n = -n
	}
	return processingMessages[n%len(processingMessages)]
}

func (o *Orchestrator) ClearCodeRequest() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.needsCode = false
}

// Close stops the pacing timer and unblocks a waiting Submit with ErrClosed.
// A provider call still in flight is left to finish and its result ignored.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	close(o.closing)

	if o.pacing != nil {
		o.pacing.Stop()
		o.pacing = nil
	}

	o.logger.Debug("evaluation orchestrator closed")

	return nil
}
