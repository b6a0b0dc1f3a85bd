package prefs

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	prefsFileName = "prefs.toml"
	appDirName    = "dashsync"
)

// FileBackend stores all keys in one TOML table under the XDG state
// directory (~/.local/state/dashsync/prefs.toml by default).
type FileBackend struct {
	dir string

	mu sync.Mutex
}

// NewFileBackend creates a backend in dir. The directory is created on the
// first Save. Pass an empty string to use the default XDG state path.
func NewFileBackend(dir string) *FileBackend {
	if dir == "" {
		dir = DefaultDir()
	}
	return &FileBackend{dir: dir}
}

// Path returns the full path to the prefs file.
func (f *FileBackend) Path() string {
	return filepath.Join(f.dir, prefsFileName)
}

func (f *FileBackend) Load(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok && v != "", nil
}

func (f *FileBackend) Save(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	values, err := f.read()
	if err != nil {
		// A corrupt file is replaced rather than blocking every write.
		values = make(map[string]string)
	}
	values[key] = value
	return f.write(values)
}

func (f *FileBackend) read() (map[string]string, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("reading prefs: %w", err)
	}
	values := make(map[string]string)
	if err := toml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing prefs: %w", err)
	}
	return values, nil
}

// write uses an atomic temp-file-then-rename.
func (f *FileBackend) write(values map[string]string) error {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return fmt.Errorf("creating prefs dir: %w", err)
	}
	data, err := toml.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshaling prefs: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, ".prefs-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.Path()); err != nil {
		return fmt.Errorf("renaming prefs file: %w", err)
	}
	committed = true
	return nil
}

// DefaultDir returns ~/.local/state/dashsync, respecting XDG_STATE_HOME.
func DefaultDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
