//go:build !windows

package watch

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_IgnoresSockets(t *testing.T) {
	root := t.TempDir()
	changes := startDetector(t, root, nil)

	ln, err := net.Listen("unix", filepath.Join(root, "app.sock"))
	require.NoError(t, err)

	select {
	case c := <-changes:
		t.Fatalf("change reported for a socket: %v", c.Paths)
	case <-time.After(300 * time.Millisecond):
	}

	// Closing the listener unlinks the socket.
	require.NoError(t, ln.Close())
	require.NoError(t, os.WriteFile(filepath.Join(root, "plugin.js"), []byte("1"), 0o644))
	assert.Equal(t, []string{"plugin.js"}, waitChange(t, changes).Paths)
}

func TestDetector_ExcludedSocketPath(t *testing.T) {
	root := t.TempDir()
	sock := filepath.Join(root, "app.sock")

	d := NewDetector(root, nil, 50*time.Millisecond)
	d.Exclude(sock)
	changes := make(chan Change, 16)
	require.NoError(t, d.Start(context.Background(), changes))
	t.Cleanup(func() { _ = d.Stop() })

	// Bind and unbind quickly, the way a child that fails right after
	// listening does.
	for range 3 {
		ln, err := net.Listen("unix", sock)
		require.NoError(t, err)
		require.NoError(t, ln.Close())
	}

	require.NoError(t, os.WriteFile(filepath.Join(root, "plugin.js"), []byte("1"), 0o644))
	assert.Equal(t, []string{"plugin.js"}, waitChange(t, changes).Paths)
}
