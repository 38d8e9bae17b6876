package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_WriteAndRead(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key, err := store.Write(ctx, "jobs/abc/text/001-person1-western.md", []byte("a reading"))
	require.NoError(t, err)
	assert.Equal(t, "jobs/abc/text/001-person1-western.md", key)

	data, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("a reading"), data)
}

func TestFileStore_WriteCreatesNestedDirectories(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	store, err := NewFileStore(base)
	require.NoError(t, err)

	key, err := store.Write(context.Background(), "a/b/c/d.pdf", []byte{0x25, 0x50})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(base, "a", "b", "c", "d.pdf"))
	assert.NoError(t, err)
	assert.Equal(t, "a/b/c/d.pdf", key)
}

func TestFileStore_SanitizesTraversalKeys(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	cases := []struct {
		name    string
		key     string
		wantErr bool
		want    string
	}{
		{name: "plain key", key: "jobs/x/out.mp3", want: "jobs/x/out.mp3"},
		{name: "leading slash stripped", key: "/jobs/x/out.mp3", want: "jobs/x/out.mp3"},
		{name: "dot segments collapsed", key: "jobs/./x/../y/out.mp3", want: "jobs/y/out.mp3"},
		{name: "escape rejected", key: "../../etc/passwd", wantErr: true},
		{name: "empty rejected", key: "   ", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			key, err := store.Write(context.Background(), tc.key, []byte("x"))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, key)
		})
	}
}

func TestFileStore_ReadMissingKey(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "jobs/nope/missing.md")
	assert.Error(t, err)
}

func TestNewFileStore_RequiresBasePath(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore("  ")
	assert.Error(t, err)
}
