package capture

import (
	"context"
	"errors"
	"io"
)

var (
	ErrSpeechUnsupported = errors.New("speech recognition is not available")
	ErrNoSpeechDetected  = errors.New("no speech detected")
	ErrClosed            = errors.New("capture coordinator is closed")
)

// Segment is one recognition result. Final segments never change again;
// interim segments are replaced by the next callback.
type Segment struct {
	Text  string
	Final bool
}

// Result is delivered by a Recognizer for every recognition update.
type Result struct {
	Segments []Segment
}

// Handler receives recognition callbacks in engine order.
type Handler interface {
	OnResult(Result)
	OnError(error)
	// OnEnd is called when the engine ends the recognition on its own.
	OnEnd()
}

// Recognizer is a continuous, interim-enabled speech-to-text engine.
type Recognizer interface {
	Start(ctx context.Context, handler Handler) error
	// Stop ends recognition and releases the microphone.
	Stop() error
}

// Synthesizer plays text as speech. done is called only when the utterance
// finishes on its own, not when it is cancelled.
type Synthesizer interface {
	Speak(text string, done func()) error
	Cancel() error
}

// AudioSource opens the raw audio stream consumed by recognizers.
type AudioSource interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}
