package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/interview-coach/internal/timing"
)

const (
	defaultRestartDelay = time.Second
	defaultTickInterval = time.Second
)

// Options configures a Coordinator. A nil Recognizer or Synthesizer means the
// capability is missing on this platform.
type Options struct {
	Recognizer   Recognizer
	Synthesizer  Synthesizer
	Scheduler    timing.Scheduler
	RestartDelay time.Duration
	TickInterval time.Duration
	Logger       *zap.Logger
}

// State is a snapshot of the capture channels.
type State struct {
	Recording  bool
	Speaking   bool
	Muted      bool
	Transcript string
	Elapsed    time.Duration
}

// Coordinator owns the speech-to-text and speech playback channels of one session.
type Coordinator struct {
	recognizer   Recognizer
	synthesizer  Synthesizer
	scheduler    timing.Scheduler
	restartDelay time.Duration
	tickInterval time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	closed bool

	listening  bool
	recording  uint64
	engine     uint64
	ctx        context.Context
	transcript transcript
	restart    timing.Timer
	ticker     timing.Timer
	elapsed    time.Duration

	speaking   bool
	utterance  uint64
	muted      bool
	lastSpoken string
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Scheduler == nil {
		opts.Scheduler = timing.New(nil)
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = defaultRestartDelay
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Coordinator{
		recognizer:   opts.Recognizer,
		synthesizer:  opts.Synthesizer,
		scheduler:    opts.Scheduler,
		restartDelay: opts.RestartDelay,
		tickInterval: opts.TickInterval,
		logger:       opts.Logger,
	}
}

func (c *Coordinator) SpeechSupported() bool { return c.recognizer != nil }

func (c *Coordinator) PlaybackSupported() bool { return c.synthesizer != nil }

// StartRecording clears the transcript and starts continuous recognition.
func (c *Coordinator) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.recognizer == nil {
		c.mu.Unlock()
		return ErrSpeechUnsupported
	}
	if c.listening {
		c.mu.Unlock()
		return nil
	}

	c.transcript.reset()
	c.listening = true
	c.recording++
	c.engine++
	c.ctx = ctx
	c.elapsed = 0
	engine := c.engine
	c.scheduleTickLocked(c.recording)
	c.mu.Unlock()

	c.logger.Debug("starting speech recognition")

	if err := c.recognizer.Start(ctx, &listener{coordinator: c, engine: engine}); err != nil {
		c.mu.Lock()
		if c.engine == engine {
			c.listening = false
			c.stopTimersLocked()
		}
		c.mu.Unlock()
		return fmt.Errorf("start recognition: %w", err)
	}

	return nil
}

// StopRecording ends recognition and returns the trimmed transcript.
// An empty transcript yields ErrNoSpeechDetected.
func (c *Coordinator) StopRecording() (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if c.recognizer == nil {
		c.mu.Unlock()
		return "", ErrSpeechUnsupported
	}

	wasListening := c.listening
	c.listening = false
	c.engine++
	c.stopTimersLocked()
	text := strings.TrimSpace(c.transcript.String())
	c.mu.Unlock()

	if wasListening {
		if err := c.recognizer.Stop(); err != nil {
			c.logger.Warn("stopping speech recognition", zap.Error(err))
		}
	}

	if text == "" {
		return "", ErrNoSpeechDetected
	}

	return text, nil
}

// ResetTranscript drops the accumulated transcript.
func (c *Coordinator) ResetTranscript() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript.reset()
}

// ReadAloud speaks text unless muted or text is what was spoken last.
func (c *Coordinator) ReadAloud(text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.synthesizer == nil || c.muted || text == "" || text == c.lastSpoken {
		c.mu.Unlock()
		return nil
	}

	wasSpeaking := c.speaking
	c.utterance++
	id := c.utterance
	c.speaking = true
	c.lastSpoken = text
	c.mu.Unlock()

	if wasSpeaking {
		if err := c.synthesizer.Cancel(); err != nil {
			c.logger.Warn("cancelling previous utterance", zap.Error(err))
		}
	}

	if err := c.synthesizer.Speak(text, func() { c.onUtteranceEnd(id) }); err != nil {
		c.mu.Lock()
		if c.utterance == id {
			c.speaking = false
			c.lastSpoken = ""
		}
		c.mu.Unlock()
		return fmt.Errorf("speak: %w", err)
	}

	return nil
}

// Replay speaks text even if it was the last text spoken.
func (c *Coordinator) Replay(text string) error {
	c.mu.Lock()
	c.lastSpoken = ""
	c.mu.Unlock()

	return c.ReadAloud(text)
}

// ToggleMute flips the mute flag and returns the new value. Muting cancels
// the utterance in flight.
func (c *Coordinator) ToggleMute() bool {
	c.mu.Lock()
	c.muted = !c.muted
	muted := c.muted
	cancel := muted && c.speaking
	if cancel {
		c.speaking = false
		c.utterance++
	}
	c.mu.Unlock()

	if cancel && c.synthesizer != nil {
		if err := c.synthesizer.Cancel(); err != nil {
			c.logger.Warn("cancelling utterance on mute", zap.Error(err))
		}
	}

	return muted
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Recording:  c.listening,
		Speaking:   c.speaking,
		Muted:      c.muted,
		Transcript: c.transcript.String(),
		Elapsed:    c.elapsed,
	}
}

// Close releases the microphone and the speaker and clears all timers.
// It is safe to call more than once.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	wasListening := c.listening
	c.listening = false
	c.engine++
	c.stopTimersLocked()
	c.speaking = false
	c.utterance++
	c.mu.Unlock()

	var errs []error
	if wasListening {
		if err := c.recognizer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop recognition: %w", err))
		}
	}
	if c.synthesizer != nil {
		if err := c.synthesizer.Cancel(); err != nil {
			errs = append(errs, fmt.Errorf("cancel playback: %w", err))
		}
	}

	c.logger.Debug("capture coordinator closed")

	return errors.Join(errs...)
}

func (c *Coordinator) onResult(engine uint64, result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.listening || c.engine != engine {
		return
	}
	c.transcript.apply(result)
}

func (c *Coordinator) onInterrupted(engine uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || !c.listening || c.engine != engine || c.restart != nil {
		return
	}

	c.logger.Warn("speech recognition interrupted, scheduling restart",
		zap.Error(cause),
		zap.Duration("delay", c.restartDelay),
	)

	c.restart = c.scheduler.AfterFunc(c.restartDelay, func() { c.restartRecognition(engine) })
}

func (c *Coordinator) restartRecognition(engine uint64) {
	c.mu.Lock()
	if c.closed || !c.listening || c.engine != engine {
		c.mu.Unlock()
		return
	}
	c.restart = nil
	c.engine++
	next := c.engine
	ctx := c.ctx
	c.mu.Unlock()

	if err := c.recognizer.Stop(); err != nil {
		c.logger.Debug("stopping interrupted recognition", zap.Error(err))
	}

	if err := c.recognizer.Start(ctx, &listener{coordinator: c, engine: next}); err != nil {
		c.logger.Warn("restarting speech recognition failed", zap.Error(err))
		c.mu.Lock()
		if c.engine == next {
			c.listening = false
			c.stopTimersLocked()
		}
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	stale := !c.listening || c.engine != next
	c.mu.Unlock()

	// Recording was stopped while the engine was restarting.
	if stale {
		if err := c.recognizer.Stop(); err != nil {
			c.logger.Debug("stopping stale recognition", zap.Error(err))
		}
	}
}

func (c *Coordinator) onUtteranceEnd(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.utterance == id {
		c.speaking = false
	}
}

func (c *Coordinator) scheduleTickLocked(recording uint64) {
	c.ticker = c.scheduler.AfterFunc(c.tickInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.closed || !c.listening || c.recording != recording {
			return
		}
		c.elapsed += c.tickInterval
		c.scheduleTickLocked(recording)
	})
}

func (c *Coordinator) stopTimersLocked() {
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

type listener struct {
	coordinator *Coordinator
	engine      uint64
}

func (l *listener) OnResult(result Result) { l.coordinator.onResult(l.engine, result) }

func (l *listener) OnError(err error) { l.coordinator.onInterrupted(l.engine, err) }

func (l *listener) OnEnd() { l.coordinator.onInterrupted(l.engine, nil) }
