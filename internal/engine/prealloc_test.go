package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreallocate(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "dst.bin"))
	require.NoError(t, err)
	defer f.Close()

	err = preallocate(f, 64*1024)
	if errors.Is(err, errors.ErrUnsupported) {
		t.Skip("preallocation not supported here")
	}
	require.NoError(t, err)

	fi, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024), fi.Size())
}
