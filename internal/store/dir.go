package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

const (
	scopePrefix = "session_"
	scopeExt    = ".json"
	latestFile  = "latest"
)

var (
	ErrNoSession    = errors.New("no saved session")
	ErrInvalidScope = errors.New("invalid session scope")
)

// Dir holds one File per session scope plus a pointer to the latest one.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("store directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// NewScope returns an id for a new session scope.
func (d *Dir) NewScope() string {
	return uuid.NewString()
}

// Open returns the File for scope. Scopes are session ids.
func (d *Dir) Open(scope string) (*File, error) {
	if _, err := uuid.Parse(scope); err != nil {
		return nil, fmt.Errorf("%w %q", ErrInvalidScope, scope)
	}
	return NewFile(filepath.Join(d.root, scopePrefix+scope+scopeExt)), nil
}

// MarkLatest records scope as the session the feedback view opens by default.
func (d *Dir) MarkLatest(scope string) error {
	if _, err := uuid.Parse(scope); err != nil {
		return fmt.Errorf("%w %q", ErrInvalidScope, scope)
	}
	return writeAtomic(filepath.Join(d.root, latestFile), []byte(scope+"\n"))
}

func (d *Dir) Latest() (string, error) {
	data, err := os.ReadFile(filepath.Join(d.root, latestFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("read latest session: %w", err)
	}

	scope := strings.TrimSpace(string(data))
	if scope == "" {
		return "", ErrNoSession
	}
	return scope, nil
}

// List returns the saved scopes in lexical order.
func (d *Dir) List() ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("read store directory %s: %w", d.root, err)
	}

	var scopes []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, scopePrefix) || filepath.Ext(name) != scopeExt {
			continue
		}
		scopes = append(scopes, strings.TrimSuffix(strings.TrimPrefix(name, scopePrefix), scopeExt))
	}
	sort.Strings(scopes)

	return scopes, nil
}
