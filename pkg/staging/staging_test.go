package staging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageAndRelease(t *testing.T) {
	content := []byte("fake audio bytes")

	staged, err := Stage("clip.wav", bytes.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, "clip.wav", staged.OriginalName)
	assert.Equal(t, int64(len(content)), staged.Size)

	got, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, staged.Release())
	_, err = os.Stat(staged.Path)
	assert.True(t, os.IsNotExist(err), "staged file should be removed")

	// Release is idempotent.
	require.NoError(t, staged.Release())
}

func TestStageUniquePaths(t *testing.T) {
	a, err := Stage("same.wav", bytes.NewReader([]byte("aa")))
	require.NoError(t, err)
	defer a.Release()

	b, err := Stage("same.wav", bytes.NewReader([]byte("bb")))
	require.NoError(t, err)
	defer b.Release()

	assert.NotEqual(t, a.Path, b.Path, "concurrent uploads must not share a path")
}

func TestStageEmptyUpload(t *testing.T) {
	_, err := Stage("empty.wav", bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrEmptyUpload)
}

func TestStageMissingFilename(t *testing.T) {
	_, err := Stage("", bytes.NewReader([]byte("x")))
	require.ErrorIs(t, err, ErrMissingFilename)
}

func TestStageStripsDirectories(t *testing.T) {
	staged, err := Stage("../../etc/clip.mp3", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	defer staged.Release()

	assert.Equal(t, "clip.mp3", staged.OriginalName)
}
