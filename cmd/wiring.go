package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/interview-coach/internal/ai"
	"github.com/spigell/interview-coach/internal/ai/gemini"
	"github.com/spigell/interview-coach/internal/ai/openai"
	"github.com/spigell/interview-coach/internal/capture"
	"github.com/spigell/interview-coach/internal/capture/command"
	"github.com/spigell/interview-coach/internal/capture/google"
	"github.com/spigell/interview-coach/internal/logger"
	"github.com/spigell/interview-coach/internal/secrets"
	"github.com/spigell/interview-coach/internal/store"
)

const (
	geminiKeyEnv = "GEMINI_API_KEY"
	openaiKeyEnv = "OPENAI_API_KEY"
)

// newProvider returns the configured LLM provider, or nil when no provider can
// be built. Callers fall back to canned content in that case.
func newProvider(ctx context.Context, cfg *AIConfig, log *zap.Logger) ai.Provider {
	generator, err := newGenerator(ctx, cfg, log)
	if err != nil {
		log.Warn("ai provider is not available, using fallback content", zap.Error(err))
		return nil
	}

	return ai.NewLLMProvider(generator, ai.Options{
		DisabledSteps: cfg.DisabledCleaningSteps,
		MaxLogLength:  cfg.MaxLogLength,
	}, logger.WithProvider(log, cfg.Provider, generator.Model()))
}

func newGenerator(ctx context.Context, cfg *AIConfig, log *zap.Logger) (ai.Generator, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = gemini.ProviderName
		cfg.Provider = provider
	}

	switch provider {
	case gemini.ProviderName:
		geminiCfg := cfg.Gemini
		if geminiCfg == nil {
			geminiCfg = &GeminiConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			Value: geminiCfg.APIKey,
			File:  geminiCfg.APIKeyFile,
			Env:   geminiKeyEnv,
		})
		if err != nil {
			return nil, err
		}

		c := geminiCfg.Config
		c.APIKey = apiKey
		generator, err := gemini.NewGenerator(ctx, c, log)
		if err != nil {
			return nil, err
		}
		return generator, nil

	case openai.ProviderName:
		openaiCfg := cfg.OpenAI
		if openaiCfg == nil {
			openaiCfg = &OpenAIConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:  "openai api key",
			Value: openaiCfg.APIKey,
			File:  openaiCfg.APIKeyFile,
			Env:   openaiKeyEnv,
		})
		if err != nil {
			return nil, err
		}

		c := openaiCfg.Config
		c.APIKey = apiKey
		generator, err := openai.NewGenerator(c, log)
		if err != nil {
			return nil, err
		}
		return generator, nil

	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}

func loadFallbacks(path string) (ai.Fallbacks, error) {
	if strings.TrimSpace(path) == "" {
		return ai.DefaultFallbacks(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return ai.Fallbacks{}, fmt.Errorf("open fallbacks file: %w", err)
	}
	defer f.Close()

	return ai.LoadFallbacks(f)
}

// unavailable stands in for a provider that could not be configured.
type unavailable struct{}

func (unavailable) EvaluateAnswer(context.Context, string, string, string) (*ai.Evaluation, error) {
	return nil, ai.ErrProviderUnavailable
}

// newCoordinator wires speech capture from configuration. Missing or broken
// adapters leave the capability out, so the session degrades to typed input.
func newCoordinator(cfg *SpeechConfig, log *zap.Logger) *capture.Coordinator {
	opts := capture.Options{Logger: log}
	if cfg == nil {
		return capture.NewCoordinator(opts)
	}
	opts.RestartDelay = cfg.RestartDelay

	if len(cfg.Recorder) > 0 {
		source, err := command.NewSource(cfg.Recorder, log)
		if err != nil {
			log.Warn("speech recognition disabled", zap.Error(err))
		} else {
			opts.Recognizer = google.New(cfg.Google, source, log)
		}
	}

	if len(cfg.Speaker) > 0 {
		speaker, err := command.NewSpeaker(cfg.Speaker, log)
		if err != nil {
			log.Warn("speech playback disabled", zap.Error(err))
		} else {
			opts.Synthesizer = speaker
		}
	}

	return capture.NewCoordinator(opts)
}

// openScope opens the store for the given session scope, or a fresh scope
// when id is empty.
func openScope(dir *store.Dir, id string) (*store.File, string, error) {
	scope := strings.TrimSpace(id)
	if scope == "" {
		scope = dir.NewScope()
	}

	kv, err := dir.Open(scope)
	if err != nil {
		return nil, "", err
	}

	return kv, scope, nil
}

// latestScope resolves the session shown by the feedback view.
func latestScope(dir *store.Dir, id string) (string, error) {
	if scope := strings.TrimSpace(id); scope != "" {
		return scope, nil
	}

	scope, err := dir.Latest()
	if errors.Is(err, store.ErrNoSession) {
		return "", fmt.Errorf("%w: run an interview first", err)
	}
	return scope, err
}
