package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
)

// ManifestName is the conventional manifest file name in a voices
// directory.
const ManifestName = "voices.json"

// ErrUnknownVoice reports a voice id missing from the manifest.
var ErrUnknownVoice = errors.New("unknown voice")

// Entry is one manifest line. Path names the voice descriptor.
type Entry struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	License string `json:"license,omitempty"`
}

type manifest struct {
	Voices []Entry `json:"voices"`
}

// Manager resolves voice ids through a manifest and loads each voice once.
type Manager struct {
	fs      afero.Fs
	baseDir string
	entries []Entry
	byID    map[string]Entry
	opts    []Option

	mu     sync.Mutex
	loaded map[string]*Voice
}

// NewManager reads the manifest at manifestPath. opts apply to every voice
// the manager loads.
func NewManager(fs afero.Fs, manifestPath string, opts ...Option) (*Manager, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := afero.ReadFile(fs, manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read voice manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode voice manifest: %w", err)
	}

	mgr := &Manager{
		fs:      fs,
		baseDir: filepath.Dir(manifestPath),
		entries: append([]Entry(nil), m.Voices...),
		byID:    make(map[string]Entry, len(m.Voices)),
		opts:    opts,
		loaded:  make(map[string]*Voice),
	}

	for _, v := range m.Voices {
		if v.ID == "" {
			return nil, errors.New("voice manifest contains empty id")
		}

		if v.Path == "" {
			return nil, fmt.Errorf("voice %q has empty path", v.ID)
		}

		if _, exists := mgr.byID[v.ID]; exists {
			return nil, fmt.Errorf("duplicate voice id %q", v.ID)
		}

		mgr.byID[v.ID] = v
	}

	return mgr, nil
}

// List returns the manifest entries in manifest order.
func (m *Manager) List() []Entry {
	return append([]Entry(nil), m.entries...)
}

// DefaultID is the first voice of the manifest, or "" when it is empty.
func (m *Manager) DefaultID() string {
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[0].ID
}

// Resolve returns the descriptor path of voice id.
func (m *Manager) Resolve(id string) (string, error) {
	v, ok := m.byID[id]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownVoice, id)
	}

	resolved := v.Path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(m.baseDir, resolved)
	}

	resolved = filepath.Clean(resolved)

	if _, err := m.fs.Stat(resolved); err != nil {
		return "", fmt.Errorf("voice descriptor for %q: %w", id, err)
	}

	return resolved, nil
}

// Get returns voice id, loading it on first use. An empty id selects the
// default voice. A failed load is not cached.
func (m *Manager) Get(id string) (*Voice, error) {
	if id == "" {
		id = m.DefaultID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.loaded[id]; ok {
		return v, nil
	}
	path, err := m.Resolve(id)
	if err != nil {
		return nil, err
	}
	v, err := Load(m.fs, path, m.opts...)
	if err != nil {
		return nil, fmt.Errorf("load voice %q: %w", id, err)
	}
	m.loaded[id] = v
	return v, nil
}

// Close releases every loaded voice.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for id, v := range m.loaded {
		err = multierr.Append(err, v.Close())
		delete(m.loaded, id)
	}
	return err
}
