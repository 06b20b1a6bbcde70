package os_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	tmos "github.com/tendermint/remotestore/libs/os"
)

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()

	dir := filepath.Join(tmp, "config", "nested")
	require.False(t, tmos.FileExists(dir))

	require.NoError(t, tmos.EnsureDir(dir, 0700))
	require.True(t, tmos.FileExists(dir))

	// idempotent
	require.NoError(t, tmos.EnsureDir(dir, 0700))

	// a regular file in the way is reported by MkdirAll
	file := filepath.Join(tmp, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0600))
	require.Error(t, tmos.EnsureDir(filepath.Join(file, "sub"), 0700))
}
