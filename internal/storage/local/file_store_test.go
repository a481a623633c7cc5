package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "pictures")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestWriteFile(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	store, err := local.New(local.Config{BaseDir: base})
	require.NoError(t, err)

	t.Run("WritesUnderDir", func(t *testing.T) {
		rel, err := store.WriteFile(ctx, "a.jpg", "7/folder", []byte("jpeg"))
		require.NoError(t, err)
		assert.Equal(t, "7/folder/a.jpg", rel)

		got, err := os.ReadFile(filepath.Join(base, "7", "folder", "a.jpg"))
		require.NoError(t, err)
		assert.Equal(t, []byte("jpeg"), got)
	})

	t.Run("Overwrites", func(t *testing.T) {
		_, err := store.WriteFile(ctx, "b.png", "7", []byte("one"))
		require.NoError(t, err)
		_, err = store.WriteFile(ctx, "b.png", "7", []byte("two"))
		require.NoError(t, err)
		got, err := os.ReadFile(filepath.Join(base, "7", "b.png"))
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), got)
	})

	t.Run("EmptyName", func(t *testing.T) {
		_, err := store.WriteFile(ctx, " ", "7", []byte("x"))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.WriteFile(ctx, "evil.txt", "../..", []byte("x"))
		assert.Error(t, err)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.WriteFile(cctx, "c.jpg", "7", []byte("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
