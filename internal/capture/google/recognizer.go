// Package google adapts Google Cloud Speech streaming recognition to the
// capture.Recognizer port.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/spigell/interview-coach/internal/capture"
)

const (
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000
	// 100ms of 16-bit mono PCM at 16kHz.
	defaultChunkSize = 3200
)

var ErrAlreadyRunning = errors.New("speech recognition is already running")

type Config struct {
	LanguageCode    string `mapstructure:"language"`
	SampleRate      int    `mapstructure:"sample-rate"`
	CredentialsFile string `mapstructure:"credentials-file"`
	ChunkSize       int    `mapstructure:"chunk-size"`
}

type stream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type dialFunc func(ctx context.Context) (stream, io.Closer, error)

type Recognizer struct {
	cfg    Config
	source capture.AudioSource
	dial   dialFunc
	logger *zap.Logger

	mu  sync.Mutex
	run *run
}

type run struct {
	cancel context.CancelFunc
	audio  io.ReadCloser
	conn   io.Closer
	wg     sync.WaitGroup
}

// New returns a Recognizer that streams LINEAR16 audio read from source.
func New(cfg Config, source capture.AudioSource, logger *zap.Logger) *Recognizer {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = defaultLanguage
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recognizer{
		cfg:    cfg,
		source: source,
		logger: logger,
	}
	r.dial = r.dialSpeech

	return r
}

func (r *Recognizer) dialSpeech(ctx context.Context) (stream, io.Closer, error) {
	var opts []option.ClientOption
	if r.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(r.cfg.CredentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create speech client: %w", err)
	}

	s, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("open streaming recognize: %w", err)
	}

	return s, client, nil
}

func (r *Recognizer) Start(ctx context.Context, handler capture.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)

	s, conn, err := r.dial(runCtx)
	if err != nil {
		cancel()
		return err
	}

	err = s.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz:            int32(r.cfg.SampleRate),
					LanguageCode:               r.cfg.LanguageCode,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:  true,
				SingleUtterance: false,
			},
		},
	})
	if err != nil {
		cancel()
		conn.Close()
		return fmt.Errorf("send streaming config: %w", err)
	}

	audio, err := r.source.Open(runCtx)
	if err != nil {
		cancel()
		conn.Close()
		return fmt.Errorf("open audio source: %w", err)
	}

	current := &run{cancel: cancel, audio: audio, conn: conn}
	current.wg.Add(2)
	go r.send(runCtx, current, s, handler)
	go r.receive(runCtx, current, s, handler)
	r.run = current

	r.logger.Debug("streaming recognition started",
		zap.String("language", r.cfg.LanguageCode),
		zap.Int("sample_rate", r.cfg.SampleRate),
	)

	return nil
}

// Stop cancels the stream, releases the audio source and waits for the
// streaming goroutines. Calling Stop without a running stream is a no-op.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	current := r.run
	r.run = nil
	r.mu.Unlock()

	if current == nil {
		return nil
	}

	current.cancel()
	audioErr := current.audio.Close()
	current.wg.Wait()
	connErr := current.conn.Close()

	return errors.Join(audioErr, connErr)
}

func (r *Recognizer) send(ctx context.Context, current *run, s stream, handler capture.Handler) {
	defer current.wg.Done()

	buf := make([]byte, r.cfg.ChunkSize)
	for {
		n, err := current.audio.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			sendErr := s.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{AudioContent: chunk},
			})
			if sendErr != nil {
				if ctx.Err() == nil {
					handler.OnError(fmt.Errorf("send audio: %w", sendErr))
				}
				return
			}
		}

		if errors.Is(err, io.EOF) {
			if closeErr := s.CloseSend(); closeErr != nil && ctx.Err() == nil {
				r.logger.Debug("closing send direction", zap.Error(closeErr))
			}
			return
		}
		if err != nil {
			if ctx.Err() == nil {
				handler.OnError(fmt.Errorf("read audio: %w", err))
			}
			return
		}
	}
}

func (r *Recognizer) receive(ctx context.Context, current *run, s stream, handler capture.Handler) {
	defer current.wg.Done()

	for {
		resp, err := s.Recv()
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			handler.OnEnd()
			return
		}
		if err != nil {
			handler.OnError(fmt.Errorf("receive recognition: %w", err))
			return
		}

		if status := resp.GetError(); status != nil {
			handler.OnError(fmt.Errorf("recognition error %d: %s", status.GetCode(), status.GetMessage()))
			return
		}

		if result, ok := toResult(resp); ok {
			handler.OnResult(result)
		}
	}
}

func toResult(resp *speechpb.StreamingRecognizeResponse) (capture.Result, bool) {
	var segments []capture.Segment
	for _, result := range resp.GetResults() {
		alternatives := result.GetAlternatives()
		if len(alternatives) == 0 {
			continue
		}
		segments = append(segments, capture.Segment{
			Text:  alternatives[0].GetTranscript(),
			Final: result.GetIsFinal(),
		})
	}

	return capture.Result{Segments: segments}, len(segments) > 0
}
