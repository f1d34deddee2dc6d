package system

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMemFs(t *testing.T) afero.Fs {
	orig := AppFs
	AppFs = afero.NewMemMapFs()
	t.Cleanup(func() { AppFs = orig })
	return AppFs
}

func TestWriteFileAtomic(t *testing.T) {
	fs := useMemFs(t)

	err := WriteFileAtomic("/var/lib/opsrun/baselines/uname.txt", []byte("Linux\n"), 0644)
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, "/var/lib/opsrun/baselines/uname.txt")
	require.NoError(t, err)
	assert.Equal(t, "Linux\n", string(content))

	entries, err := afero.ReadDir(fs, "/var/lib/opsrun/baselines")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestWriteFileAtomic_Overwrites(t *testing.T) {
	fs := useMemFs(t)
	require.NoError(t, afero.WriteFile(fs, "/b.txt", []byte("old"), 0644))

	require.NoError(t, WriteFileAtomic("/b.txt", []byte("new"), 0644))

	content, err := afero.ReadFile(fs, "/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
}

func TestWriteFileAtomic_ReadOnlyFs(t *testing.T) {
	orig := AppFs
	AppFs = afero.NewReadOnlyFs(afero.NewMemMapFs())
	t.Cleanup(func() { AppFs = orig })

	err := WriteFileAtomic("/x/y.txt", []byte("data"), 0644)
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	fs := useMemFs(t)
	require.NoError(t, afero.WriteFile(fs, "/present", nil, 0644))

	ok, err := Exists("/present")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists("/absent")
	require.NoError(t, err)
	assert.False(t, ok)
}
