package cred

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreReadWrite(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, s.EnsureDirectory())

	assert.False(t, s.Exists(ClientCertFileName))

	// Missing file reads as empty, not an error.
	data, err := s.ReadAll(ClientCertFileName)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, s.WriteAll(ClientCertFileName, []byte("cert-pem")))
	assert.True(t, s.Exists(ClientCertFileName))

	data, err = s.ReadAll(ClientCertFileName)
	require.NoError(t, err)
	assert.Equal(t, []byte("cert-pem"), data)
}

func TestFileStorePermissions(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, s.EnsureDirectory())

	require.NoError(t, s.WriteAll(PrivateKeyFileName, []byte("key")))
	require.NoError(t, s.WriteAll(CAFileName, []byte("ca")))

	keyInfo, err := os.Stat(s.Path(PrivateKeyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), keyInfo.Mode().Perm())

	caInfo, err := os.Stat(s.Path(CAFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), caInfo.Mode().Perm())
}

func TestEnsureDirectory(t *testing.T) {
	t.Run("CreatesWhenAbsent", func(t *testing.T) {
		s := NewFileStore(t.TempDir())
		require.NoError(t, s.EnsureDirectory())

		info, err := os.Stat(s.Dir())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("ExistingDirectoryIsSuccess", func(t *testing.T) {
		s := NewFileStore(t.TempDir())
		require.NoError(t, s.EnsureDirectory())
		require.NoError(t, s.EnsureDirectory())
	})

	t.Run("ExistingFileIsError", func(t *testing.T) {
		base := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(base, Namespace), []byte("x"), 0644))

		s := NewFileStore(base)
		err := s.EnsureDirectory()
		assert.True(t, errors.Is(err, ErrNotDirectory))
	})
}

func TestBundleComplete(t *testing.T) {
	tests := []struct {
		name   string
		bundle Bundle
		want   bool
	}{
		{"Empty", Bundle{}, false},
		{"AllPresent", Bundle{CACert: []byte("a"), ClientCert: []byte("b"), PrivateKey: []byte("c")}, true},
		{"MissingKey", Bundle{CACert: []byte("a"), ClientCert: []byte("b")}, false},
		{"MissingCA", Bundle{ClientCert: []byte("b"), PrivateKey: []byte("c")}, false},
		{"MissingClientCert", Bundle{CACert: []byte("a"), PrivateKey: []byte("c")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bundle.Complete())
		})
	}
}

func TestLoadBundle(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, s.EnsureDirectory())

	b, err := LoadBundle(s)
	require.NoError(t, err)
	assert.False(t, b.Complete())

	require.NoError(t, s.WriteAll(CAFileName, []byte("ca")))
	require.NoError(t, s.WriteAll(ClientCertFileName, []byte("cert")))

	// Still incomplete: no key.
	b, err = LoadBundle(s)
	require.NoError(t, err)
	assert.False(t, b.Complete())

	require.NoError(t, s.WriteAll(PrivateKeyFileName, []byte("key")))

	b, err = LoadBundle(s)
	require.NoError(t, err)
	require.True(t, b.Complete())
	assert.Equal(t, []byte("ca"), b.CACert)
	assert.Equal(t, []byte("cert"), b.ClientCert)
	assert.Equal(t, []byte("key"), b.PrivateKey)
}
