package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	root := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(root, "tmp"), filepath.Join(root, "out"))
	require.NoError(t, err)
	return s
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates missing directories", func(t *testing.T) {
		root := t.TempDir()
		tempDir := filepath.Join(root, "nested", "tmp")
		outputDir := filepath.Join(root, "nested", "out")

		s, err := NewLocalStorage(tempDir, outputDir)
		require.NoError(t, err)
		assert.Equal(t, tempDir, s.TempDir())
		assert.Equal(t, outputDir, s.OutputDir())
		assert.DirExists(t, tempDir)
		assert.DirExists(t, outputDir)
	})

	t.Run("defaults under the system temp dir", func(t *testing.T) {
		s, err := NewLocalStorage("", "")
		require.NoError(t, err)

		base := filepath.Join(os.TempDir(), "clipforge")
		assert.Equal(t, base, s.TempDir())
		assert.Equal(t, filepath.Join(base, "exports"), s.OutputDir())
	})

	t.Run("fails when a directory cannot be created", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

		_, err := NewLocalStorage(t.TempDir(), filepath.Join(blocker, "out"))
		assert.ErrorContains(t, err, "create output directory")
	})
}

func TestLocalStorage_AllocateOutput(t *testing.T) {
	s := newTestStorage(t)

	t.Run("fresh mp4 paths in the output dir", func(t *testing.T) {
		seen := make(map[string]struct{})
		for range 32 {
			path, err := s.AllocateOutput(".mp4")
			require.NoError(t, err)
			assert.Equal(t, s.OutputDir(), filepath.Dir(path))
			assert.Equal(t, ".mp4", filepath.Ext(path))
			assert.NoFileExists(t, path)
			_, dup := seen[path]
			require.False(t, dup, "duplicate path %s", path)
			seen[path] = struct{}{}
		}
	})

	t.Run("extension without dot", func(t *testing.T) {
		path, err := s.AllocateOutput("mp4")
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(path, ".mp4"), path)
	})

	t.Run("extension with separator", func(t *testing.T) {
		_, err := s.AllocateOutput("./../x")
		assert.Error(t, err)
	})
}

func TestLocalStorage_SaveTemp(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	t.Run("writes the upload", func(t *testing.T) {
		path, err := s.SaveTemp(ctx, "upload", strings.NewReader("mov bytes"))
		require.NoError(t, err)
		assert.Contains(t, filepath.Base(path), "upload_")

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "mov bytes", string(content))
	})

	t.Run("name hint cannot escape the temp dir", func(t *testing.T) {
		path, err := s.SaveTemp(ctx, "../../escape", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Equal(t, s.TempDir(), filepath.Dir(path))
	})

	t.Run("removes the file when the reader fails", func(t *testing.T) {
		_, err := s.SaveTemp(ctx, "broken", io.MultiReader(strings.NewReader("x"), failingReader{}))
		require.Error(t, err)

		entries, err := filepath.Glob(filepath.Join(s.TempDir(), "broken_*"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("cancelled context", func(t *testing.T) {
		_, err := s.SaveTemp(cancelledContext(), "upload", strings.NewReader("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestLocalStorage_LoadTemp(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	path, err := s.SaveTemp(ctx, "load", strings.NewReader("frames"))
	require.NoError(t, err)

	rc, err := s.LoadTemp(ctx, path)
	require.NoError(t, err)
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "frames", string(content))

	_, err = s.LoadTemp(ctx, filepath.Join(s.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = s.LoadTemp(cancelledContext(), path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	t.Run("removes every path and ignores missing ones", func(t *testing.T) {
		var paths []string
		for range 3 {
			path, err := s.SaveTemp(ctx, "cleanup", strings.NewReader("x"))
			require.NoError(t, err)
			paths = append(paths, path)
		}
		paths = append(paths, filepath.Join(s.TempDir(), "never-written"))

		require.NoError(t, s.CleanupTemp(ctx, paths))
		for _, p := range paths {
			assert.NoFileExists(t, p)
		}
	})

	t.Run("partial export in the output dir", func(t *testing.T) {
		out, err := s.AllocateOutput(".mp4")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(out, []byte("partial"), 0o600))

		require.NoError(t, s.CleanupTemp(ctx, []string{out}))
		assert.NoFileExists(t, out)
	})

	t.Run("cancelled context", func(t *testing.T) {
		err := s.CleanupTemp(cancelledContext(), []string{"/some/path"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_UploadToS3(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.UploadToS3(context.Background(), "exports/x.mp4", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrS3NotConfigured)
}
