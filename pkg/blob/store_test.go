package blob

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileStore_CreateAndDelete(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	h, err := s.Create([]byte("RIFF...."), "wav")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(h), ".wav"))
	require.Equal(t, s.Dir(), filepath.Dir(string(h)))

	data, err := os.ReadFile(string(h))
	require.NoError(t, err)
	require.Equal(t, "RIFF....", string(data))
	require.Equal(t, []Handle{h}, s.Live())

	require.NoError(t, s.Delete(h))
	_, err = os.Stat(string(h))
	require.True(t, os.IsNotExist(err))
	require.Empty(t, s.Live())
}

func TestFileStore_DeleteIsIdempotent(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	h, err := s.Create([]byte{1, 2, 3}, ".mp3")
	require.NoError(t, err)

	require.NoError(t, s.Delete(h))
	require.NoError(t, s.Delete(h))
	require.NoError(t, s.Delete(Handle(filepath.Join(s.Dir(), "never-existed.wav"))))
	require.NoError(t, s.Delete(""))
}

func TestFileStore_CleanupRemovesEverything(t *testing.T) {
	base := t.TempDir()
	s, err := NewFileStore(base)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Create([]byte{byte(i)}, "wav")
		require.NoError(t, err)
	}
	require.Len(t, s.Live(), 3)

	require.NoError(t, s.Cleanup())
	require.Empty(t, s.Live())
	_, err = os.Stat(s.Dir())
	require.True(t, os.IsNotExist(err))

	require.NoError(t, s.Cleanup())
}

func TestFileStore_CreateAfterCleanupRecreatesFolder(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Cleanup())

	h, err := s.Create([]byte{1}, "")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(h), ".bin"))
}

func TestFileStore_CleanupLeavesOtherSessionsAlone(t *testing.T) {
	base := t.TempDir()
	shared := filepath.Join(base, "recordings")

	a, err := NewFileStore(base)
	require.NoError(t, err)
	b, err := NewFileStore(base)
	require.NoError(t, err)
	require.NotEqual(t, a.Dir(), b.Dir())
	require.Equal(t, shared, filepath.Dir(a.Dir()))

	foreign := filepath.Join(shared, "someone-elses.wav")
	require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o600))

	_, err = a.Create([]byte{1}, "wav")
	require.NoError(t, err)
	other, err := b.Create([]byte{2}, "mp3")
	require.NoError(t, err)

	require.NoError(t, a.Cleanup())
	require.NoDirExists(t, a.Dir())
	require.FileExists(t, foreign)
	require.FileExists(t, string(other))
	require.Equal(t, []Handle{other}, b.Live())

	require.NoError(t, b.Cleanup())
	require.NoFileExists(t, string(other))
	require.FileExists(t, foreign)
	require.DirExists(t, shared)
}

func TestFileStore_CleanupKeepsUnknownFilesInSessionFolder(t *testing.T) {
	base := t.TempDir()
	s, err := NewFileStore(base)
	require.NoError(t, err)

	stray := filepath.Join(s.Dir(), "stray.txt")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o600))
	_, err = s.Create([]byte{1}, "wav")
	require.NoError(t, err)

	require.NoError(t, s.Cleanup())
	require.Empty(t, s.Live())
	require.FileExists(t, stray)
}

func TestFileStore_CleanupRemovesEmptySharedFolder(t *testing.T) {
	base := t.TempDir()
	s, err := NewFileStore(base)
	require.NoError(t, err)
	_, err = s.Create([]byte{1}, "wav")
	require.NoError(t, err)

	require.NoError(t, s.Cleanup())
	require.NoDirExists(t, filepath.Join(base, "recordings"))
	require.DirExists(t, base)
}
