package cred

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Credential file names, fixed by the desktop protocol.
const (
	CAFileName         = "sonarCA.crt"
	ClientCertFileName = "device.crt"
	PrivateKeyFileName = "privateKey.pem"
	CSRFileName        = "app.csr"
)

// Namespace is the directory under the app's private directory that holds
// the agent's credentials.
const Namespace = "flipper"

// Store errors.
var (
	ErrNotDirectory = errors.New("credential path exists but is not a directory")
)

// Store is the credential storage interface consumed by the agent.
type Store interface {
	// Exists reports whether the named credential file is present.
	Exists(name string) bool

	// ReadAll returns the contents of the named file. A missing file
	// yields an empty slice and no error; other failures are returned.
	ReadAll(name string) ([]byte, error)

	// WriteAll writes data to the named file, creating it if needed.
	// Key material is written with restricted permissions.
	WriteAll(name string, data []byte) error

	// EnsureDirectory creates the credential directory if absent.
	// An existing directory is success; an existing non-directory is an
	// error.
	EnsureDirectory() error

	// Path returns the absolute path of the named file.
	Path(name string) string

	// Dir returns the credential directory path.
	Dir() string
}

// FileStore is the file-backed credential store rooted at
// <privateAppDirectory>/flipper/.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at the given private app directory.
func NewFileStore(privateAppDir string) *FileStore {
	return &FileStore{dir: filepath.Join(privateAppDir, Namespace)}
}

// Exists reports whether the named credential file is present.
func (s *FileStore) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// ReadAll returns the contents of the named file, or an empty slice if the
// file does not exist.
func (s *FileStore) ReadAll(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// WriteAll writes data to the named file. Private keys get 0600, everything
// else 0644.
func (s *FileStore) WriteAll(name string, data []byte) error {
	perm := os.FileMode(0644)
	if isKeyMaterial(name) {
		perm = 0600
	}
	if err := os.WriteFile(s.Path(name), data, perm); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// EnsureDirectory creates the credential directory if it does not exist.
func (s *FileStore) EnsureDirectory() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return os.MkdirAll(s.dir, 0700)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDirectory, s.dir)
	}
	return nil
}

// Path returns the absolute path of the named file.
func (s *FileStore) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Dir returns the credential directory path.
func (s *FileStore) Dir() string {
	return s.dir
}

func isKeyMaterial(name string) bool {
	return strings.HasSuffix(name, ".pem") || strings.HasSuffix(name, ".key")
}

// Compile-time interface satisfaction check.
var _ Store = (*FileStore)(nil)
