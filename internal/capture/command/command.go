// Package command provides capture adapters backed by external programs: a
// recorder whose stdout is raw PCM audio and a text-to-speech player.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// TextPlaceholder is replaced by the utterance in speaker arguments. When no
// argument contains it the text is written to the program's stdin.
const TextPlaceholder = "{text}"

var ErrNoCommand = errors.New("no command configured")

func lookup(argv []string) error {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return ErrNoCommand
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return fmt.Errorf("command %q is not available: %w", argv[0], err)
	}
	return nil
}

func kill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// Source records audio by running a command such as
// `arecord -q -f S16_LE -r 16000 -c 1 -t raw`.
type Source struct {
	argv   []string
	logger *zap.Logger
}

func NewSource(argv []string, logger *zap.Logger) (*Source, error) {
	if err := lookup(argv); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Source{argv: append([]string(nil), argv...), logger: logger}, nil
}

func (s *Source) Open(ctx context.Context) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("recorder stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recorder %q: %w", s.argv[0], err)
	}

	s.logger.Debug("recorder started", zap.Strings("argv", s.argv), zap.Int("pid", cmd.Process.Pid))

	return &recording{cmd: cmd, stdout: stdout, logger: s.logger}, nil
}

type recording struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	logger *zap.Logger

	once sync.Once
	err  error
}

func (r *recording) Read(p []byte) (int, error) {
	return r.stdout.Read(p)
}

// Close kills the recorder and reaps it.
func (r *recording) Close() error {
	r.once.Do(func() {
		r.err = kill(r.cmd)
		if err := r.cmd.Wait(); err != nil {
			r.logger.Debug("recorder exited", zap.Error(err))
		}
	})
	return r.err
}

// Speaker plays text through a command such as `espeak {text}` or `say`.
type Speaker struct {
	argv   []string
	logger *zap.Logger

	mu      sync.Mutex
	current *exec.Cmd
}

func NewSpeaker(argv []string, logger *zap.Logger) (*Speaker, error) {
	if err := lookup(argv); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Speaker{argv: append([]string(nil), argv...), logger: logger}, nil
}

// Speak starts the utterance and returns immediately. A running utterance is
// killed first. done runs when the program exits on its own.
func (s *Speaker) Speak(text string, done func()) error {
	args, useStdin := expandArgs(s.argv[1:], text)
	cmd := exec.Command(s.argv[0], args...)
	if useStdin {
		cmd.Stdin = strings.NewReader(text)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := kill(s.current); err != nil {
		s.logger.Warn("stopping previous utterance", zap.Error(err))
	}
	s.current = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start speaker %q: %w", s.argv[0], err)
	}
	s.current = cmd

	go s.wait(cmd, done)

	return nil
}

func (s *Speaker) wait(cmd *exec.Cmd, done func()) {
	err := cmd.Wait()

	s.mu.Lock()
	natural := s.current == cmd
	if natural {
		s.current = nil
	}
	s.mu.Unlock()

	if !natural {
		return
	}
	if err != nil {
		s.logger.Warn("speaker exited with error", zap.Error(err))
	}
	if done != nil {
		done()
	}
}

func (s *Speaker) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := kill(s.current)
	s.current = nil

	return err
}

func expandArgs(args []string, text string) ([]string, bool) {
	expanded := make([]string, len(args))
	useStdin := true
	for i, arg := range args {
		if strings.Contains(arg, TextPlaceholder) {
			useStdin = false
			arg = strings.ReplaceAll(arg, TextPlaceholder, text)
		}
		expanded[i] = arg
	}
	return expanded, useStdin
}
