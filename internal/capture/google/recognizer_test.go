package google

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/spigell/interview-coach/internal/capture"
)

type recvItem struct {
	resp *speechpb.StreamingRecognizeResponse
	err  error
}

type fakeStream struct {
	ctx       context.Context
	mu        sync.Mutex
	sent      []*speechpb.StreamingRecognizeRequest
	closeSend bool
	responses chan recvItem
}

func (f *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	select {
	case item := <-f.responses:
		return item.resp, item.err
	case <-f.ctx.Done():
		return nil, f.ctx.Err()
	}
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend = true
	return nil
}

func (f *fakeStream) requests() []*speechpb.StreamingRecognizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*speechpb.StreamingRecognizeRequest(nil), f.sent...)
}

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type pipeSource struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func newPipeSource() *pipeSource {
	r, w := io.Pipe()
	return &pipeSource{reader: r, writer: w}
}

func (p *pipeSource) Open(context.Context) (io.ReadCloser, error) {
	return p.reader, nil
}

type recordingHandler struct {
	results chan capture.Result
	errs    chan error
	ends    chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		results: make(chan capture.Result, 8),
		errs:    make(chan error, 8),
		ends:    make(chan struct{}, 8),
	}
}

func (h *recordingHandler) OnResult(r capture.Result) { h.results <- r }
func (h *recordingHandler) OnError(err error)         { h.errs <- err }
func (h *recordingHandler) OnEnd()                    { h.ends <- struct{}{} }

func newTestRecognizer(t *testing.T) (*Recognizer, *pipeSource, func() (*fakeStream, *fakeConn)) {
	t.Helper()

	source := newPipeSource()
	r := New(Config{LanguageCode: "en-GB"}, source, nil)

	var (
		mu   sync.Mutex
		last *fakeStream
		conn *fakeConn
	)
	r.dial = func(ctx context.Context) (stream, io.Closer, error) {
		mu.Lock()
		defer mu.Unlock()
		last = &fakeStream{ctx: ctx, responses: make(chan recvItem, 8)}
		conn = &fakeConn{}
		return last, conn, nil
	}

	return r, source, func() (*fakeStream, *fakeConn) {
		mu.Lock()
		defer mu.Unlock()
		return last, conn
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestStartSendsStreamingConfig(t *testing.T) {
	r, _, current := newTestRecognizer(t)

	if err := r.Start(context.Background(), newRecordingHandler()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	s, _ := current()
	reqs := s.requests()
	if len(reqs) == 0 {
		t.Fatalf("expected config request")
	}

	cfg := reqs[0].GetStreamingConfig()
	if cfg == nil {
		t.Fatalf("expected first request to carry streaming config")
	}
	if !cfg.GetInterimResults() || cfg.GetSingleUtterance() {
		t.Fatalf("expected continuous interim recognition, got %+v", cfg)
	}
	if cfg.GetConfig().GetLanguageCode() != "en-GB" {
		t.Fatalf("unexpected language: %q", cfg.GetConfig().GetLanguageCode())
	}
	if cfg.GetConfig().GetSampleRateHertz() != defaultSampleRate {
		t.Fatalf("unexpected sample rate: %d", cfg.GetConfig().GetSampleRateHertz())
	}
}

func TestAudioIsForwarded(t *testing.T) {
	r, source, current := newTestRecognizer(t)

	if err := r.Start(context.Background(), newRecordingHandler()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	if _, err := source.writer.Write([]byte("pcm")); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	s, _ := current()
	waitUntil(t, func() bool { return len(s.requests()) == 2 })

	if got := string(s.requests()[1].GetAudioContent()); got != "pcm" {
		t.Fatalf("unexpected audio content: %q", got)
	}

	source.writer.Close()
	waitUntil(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closeSend
	})
}

func TestResponsesAreMappedToSegments(t *testing.T) {
	r, _, current := newTestRecognizer(t)
	handler := newRecordingHandler()

	if err := r.Start(context.Background(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer r.Stop()

	s, _ := current()
	s.responses <- recvItem{resp: &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{IsFinal: true, Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "Hello"}}},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "wor"}}},
			{IsFinal: true},
		},
	}}

	select {
	case result := <-handler.results:
		want := []capture.Segment{{Text: "Hello", Final: true}, {Text: "wor"}}
		if len(result.Segments) != len(want) {
			t.Fatalf("unexpected segments: %+v", result.Segments)
		}
		for i := range want {
			if result.Segments[i] != want[i] {
				t.Fatalf("segment %d: expected %+v, got %+v", i, want[i], result.Segments[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatalf("expected result")
	}
}

func TestServerEndAndErrorsReachHandler(t *testing.T) {
	t.Run("end", func(t *testing.T) {
		r, _, current := newTestRecognizer(t)
		handler := newRecordingHandler()
		_ = r.Start(context.Background(), handler)
		defer r.Stop()

		s, _ := current()
		s.responses <- recvItem{err: io.EOF}

		select {
		case <-handler.ends:
		case <-time.After(time.Second):
			t.Fatalf("expected end callback")
		}
	})

	t.Run("error", func(t *testing.T) {
		r, _, current := newTestRecognizer(t)
		handler := newRecordingHandler()
		_ = r.Start(context.Background(), handler)
		defer r.Stop()

		s, _ := current()
		s.responses <- recvItem{err: errors.New("unavailable")}

		select {
		case err := <-handler.errs:
			if err == nil {
				t.Fatalf("expected non-nil error")
			}
		case <-time.After(time.Second):
			t.Fatalf("expected error callback")
		}
	})
}

func TestStopReleasesStream(t *testing.T) {
	r, source, current := newTestRecognizer(t)
	handler := newRecordingHandler()

	if err := r.Start(context.Background(), handler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.Start(context.Background(), handler); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}

	_, conn := current()
	if !conn.closed {
		t.Fatalf("expected client to be closed")
	}
	if _, err := source.writer.Write([]byte("late")); err == nil {
		t.Fatalf("expected audio source to be closed")
	}

	select {
	case err := <-handler.errs:
		t.Fatalf("expected no error after stop, got %v", err)
	case <-handler.ends:
		t.Fatalf("expected no end callback after stop")
	default:
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("expected second stop to be a no-op, got %v", err)
	}
}
