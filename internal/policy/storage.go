package policy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/OCAP2/arena/pkg/core"
)

// Storage is a robot's private directory. Every path is relative to it and
// the total size of its files never exceeds the quota.
type Storage struct {
	fs    afero.Fs
	root  string
	quota int64

	mu   sync.Mutex
	used int64
}

// NewStorage opens (creating if needed) the private directory for robotName
// under dataDir on base.
func NewStorage(base afero.Fs, dataDir, robotName string, quota int64) (*Storage, error) {
	root := filepath.Join(dataDir, sanitizeName(robotName))
	if err := base.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating robot data dir: %w", err)
	}

	s := &Storage{
		fs:    afero.NewBasePathFs(base, root),
		root:  root,
		quota: quota,
	}

	err := afero.Walk(s.fs, string(filepath.Separator), func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			s.used += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("measuring robot data dir: %w", err)
	}
	return s, nil
}

// Root returns the directory backing the storage.
func (s *Storage) Root() string {
	return s.root
}

// Quota returns the byte limit.
func (s *Storage) Quota() int64 {
	return s.quota
}

// Used returns the bytes currently stored.
func (s *Storage) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// WriteFile replaces name with data.
func (s *Storage) WriteFile(name string, data []byte) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.sizeOf(path)
	if err := s.reserve(int64(len(data)) - existing); err != nil {
		return err
	}
	if err := s.ensureParent(path); err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	s.used += int64(len(data)) - existing
	return nil
}

// AppendFile appends data to name, creating it if needed.
func (s *Storage) AppendFile(name string, data []byte) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reserve(int64(len(data))); err != nil {
		return err
	}
	if err := s.ensureParent(path); err != nil {
		return err
	}
	f, err := s.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()

	n, err := f.Write(data)
	s.used += int64(n)
	if err != nil {
		return fmt.Errorf("appending %s: %w", name, err)
	}
	return nil
}

// ReadFile returns the contents of name.
func (s *Storage) ReadFile(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(s.fs, path)
}

// Remove deletes name and releases its bytes.
func (s *Storage) Remove(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := s.sizeOf(path)
	if err := s.fs.Remove(path); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	s.used -= size
	return nil
}

// List returns the stored file names in lexical order.
func (s *Storage) List() ([]string, error) {
	var names []string
	err := afero.Walk(s.fs, string(filepath.Separator), func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			names = append(names, strings.TrimPrefix(filepath.ToSlash(path), "/"))
		}
		return nil
	})
	sort.Strings(names)
	return names, err
}

// resolve rejects any name that could leave the private directory.
func (s *Storage) resolve(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: path %q escapes private storage", core.ErrSecurityViolation, name)
	}
	return filepath.Join(string(filepath.Separator), name), nil
}

func (s *Storage) reserve(delta int64) error {
	if s.used+delta > s.quota {
		return fmt.Errorf("%w: %d of %d bytes used, %d more requested", core.ErrQuotaExceeded, s.used, s.quota, delta)
	}
	return nil
}

func (s *Storage) sizeOf(path string) int64 {
	info, err := s.fs.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Storage) ensureParent(path string) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	return nil
}

// sanitizeName maps a robot name onto a single safe directory name. The
// mapping is one-to-one: '_' is the escape character, written "__" for
// itself and "_xHH" for each byte of any other rune outside [A-Za-z0-9.-]
// or for a leading '.'.
func sanitizeName(name string) string {
	if name == "" {
		return "_"
	}
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_':
			b.WriteString("__")
		case r == '.' && i == 0:
			b.WriteString("_x2e")
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			for _, c := range []byte(string(r)) {
				fmt.Fprintf(&b, "_x%02x", c)
			}
		}
	}
	return b.String()
}
