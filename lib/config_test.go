package lib

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheSmallBoat/xwire/wire"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
display: ":1"
handshake_timeout: 2s
reply_timeout: 500ms
write_queue_size: 64
event_buffer_size: 128
extensions: [RANDR, XKEYBOARD]
dial_attempts: 3
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":1", cfg.Display)
	require.Equal(t, 2*time.Second, cfg.HandshakeTimeout)
	require.Equal(t, 500*time.Millisecond, cfg.ReplyTimeout)
	require.Equal(t, 64, cfg.WriteQueueSize)
	require.Equal(t, 128, cfg.EventBufferSize)
	require.Equal(t, 3, cfg.DialAttempts)

	require.True(t, cfg.wantsExtension(wire.RandRName))
	require.False(t, cfg.wantsExtension(wire.XInputName))

	cfg = cfg.withDefaults()
	require.Equal(t, DefaultReadBufferSize, cfg.ReadBufferSize)
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.ConnState)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("handshake_timeout: [\n"), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestDefaultConfigEnablesEverything(t *testing.T) {
	var cfg Config
	for _, d := range knownExtensions {
		require.True(t, cfg.wantsExtension(d.name))
	}
}
