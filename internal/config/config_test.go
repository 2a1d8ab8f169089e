package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsSeeded(t *testing.T) {
	c := New()
	assert.Equal(t, 5000, c.Get("tcp.connect.timeout"))
	d, err := c.GetDuration("tcp_server.read_timeout")
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, d)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tcp.connect.timeout: 9000\n"), 0o644))

	c := New()
	require.NoError(t, c.LoadFile(path))

	ms, err := c.GetInt("tcp.connect.timeout")
	require.NoError(t, err)
	assert.Equal(t, 9000, ms)
}

func TestOnChangeFiresWithOldAndNew(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tcp.connect.timeout: 1000\n"), 0o644))

	c := New()
	require.NoError(t, c.LoadFile(path))

	var gotOld, gotNew any
	c.OnChange("tcp.connect.timeout", func(key string, oldVal, newVal any) {
		gotOld, gotNew = oldVal, newVal
	})

	require.NoError(t, os.WriteFile(path, []byte("tcp.connect.timeout: 2000\n"), 0o644))
	require.NoError(t, c.LoadFile(path))

	assert.Equal(t, 1000, gotOld)
	assert.Equal(t, 2000, gotNew)
}

func TestWatchReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tcp.connect.timeout: 1000\n"), 0o644))

	c := New()
	require.NoError(t, c.LoadFile(path))
	require.NoError(t, c.Watch())
	defer c.Close()

	changed := make(chan int, 1)
	c.OnChange("tcp.connect.timeout", func(key string, oldVal, newVal any) {
		changed <- newVal.(int)
	})

	require.NoError(t, os.WriteFile(path, []byte("tcp.connect.timeout: 4242\n"), 0o644))

	select {
	case v := <-changed:
		assert.Equal(t, 4242, v)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never picked up the file change")
	}
}
