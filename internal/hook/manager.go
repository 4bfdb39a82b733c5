package hook

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrHookNotFound is returned when a requested hook does not exist.
var ErrHookNotFound = errors.New("hook not found")

// Manager discovers hooks under a directory.
type Manager struct {
	dir   string
	log   logrus.FieldLogger
	hooks map[string]*Hook
	mu    sync.RWMutex
}

// NewManager creates a Manager for dir. A nil logger uses the standard one.
func NewManager(dir string, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		dir:   dir,
		log:   log,
		hooks: make(map[string]*Hook),
	}
}

// Discover scans every subdirectory of the hook directory for a manifest.
// Unreadable or invalid manifests are skipped with a warning. A missing
// directory yields no hooks.
func (m *Manager) Discover() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks = make(map[string]*Hook)

	info, err := os.Stat(m.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		hookPath := filepath.Join(m.dir, entry.Name())
		manifestPath := filepath.Join(hookPath, ManifestFile)
		data, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		log := m.log.WithField("manifest", manifestPath)
		if err != nil {
			log.WithError(err).Warn("cannot read hook manifest")
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil {
			log.WithError(err).Warn("invalid hook manifest")
			continue
		}
		if manifest.Name == "" || manifest.Executable == "" || len(manifest.Gestures) == 0 {
			log.Warn("hook manifest needs a name, an executable and gestures")
			continue
		}

		m.hooks[manifest.Name] = &Hook{
			Manifest:   manifest,
			Path:       hookPath,
			Executable: filepath.Join(hookPath, manifest.Executable),
		}
		log.WithField("gestures", manifest.Gestures).Debug("hook discovered")
	}

	return nil
}

// Get returns a hook by name.
func (m *Manager) Get(name string) (*Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, ok := m.hooks[name]
	if !ok {
		return nil, ErrHookNotFound
	}
	return h, nil
}

// List returns all discovered hooks sorted by name.
func (m *Manager) List() []*Hook {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hooks := make([]*Hook, 0, len(m.hooks))
	for _, h := range m.hooks {
		hooks = append(hooks, h)
	}
	sort.Slice(hooks, func(i, j int) bool { return hooks[i].Manifest.Name < hooks[j].Manifest.Name })
	return hooks
}

// Match returns the hooks bound to gesture at confidence, sorted by name.
func (m *Manager) Match(gesture string, confidence float64) []*Hook {
	var out []*Hook
	for _, h := range m.List() {
		if h.Matches(gesture, confidence) {
			out = append(out, h)
		}
	}
	return out
}

// Dir returns the hook directory.
func (m *Manager) Dir() string {
	return m.dir
}
