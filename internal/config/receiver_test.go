package config

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyReceiverConfig_Defaults(t *testing.T) {
	cfg := EmptyReceiverConfig()

	assert.Equal(t, 9988, cfg.GetListenPort())
	assert.Equal(t, ":9988", cfg.GetListenAddress())
	assert.Equal(t, 10, cfg.GetPoolCapacity())
	assert.Equal(t, 1400, cfg.GetMaxDatagramSize())
	assert.Equal(t, 1000000, cfg.GetMaxFramePayloadSize())
	assert.Equal(t, time.Second, cfg.GetReceiveTimeout())
	assert.Equal(t, 5, cfg.GetFrameQueueSize())
	assert.Equal(t, 4<<20, cfg.GetRcvBuf())
	assert.Equal(t, time.Minute, cfg.GetLogInterval())
	assert.False(t, cfg.GetVerbose())
	assert.Equal(t, binary.NativeEndian, cfg.GetByteOrder())
	assert.NoError(t, cfg.Validate())
}

func TestDefaultReceiverConfig_MatchesGetters(t *testing.T) {
	cfg := DefaultReceiverConfig()
	empty := EmptyReceiverConfig()

	assert.Equal(t, empty.GetListenAddress(), cfg.GetListenAddress())
	assert.Equal(t, empty.GetPoolCapacity(), cfg.GetPoolCapacity())
	assert.Equal(t, empty.GetReceiveTimeout(), cfg.GetReceiveTimeout())
	assert.Equal(t, empty.GetLogInterval(), cfg.GetLogInterval())
	assert.NoError(t, cfg.Validate())
}

func TestLoadReceiverConfig(t *testing.T) {
	path := writeConfig(t, "receiver.json", `{
  "listen_address": "127.0.0.1",
  "listen_port": 9987,
  "pool_capacity": 4,
  "receive_timeout": "250ms",
  "frame_queue_size": 0,
  "byte_order": "big",
  "verbose": true
}`)

	cfg, err := LoadReceiverConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9987", cfg.GetListenAddress())
	assert.Equal(t, 4, cfg.GetPoolCapacity())
	assert.Equal(t, 250*time.Millisecond, cfg.GetReceiveTimeout())
	assert.Equal(t, 0, cfg.GetFrameQueueSize())
	assert.True(t, cfg.GetVerbose())
	assert.Equal(t, binary.BigEndian, cfg.GetByteOrder())
	// Omitted fields keep defaults.
	assert.Equal(t, 1400, cfg.GetMaxDatagramSize())
}

func TestLoadReceiverConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		body     string
		contains string
	}{
		{"wrong extension", "receiver.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{`, "failed to parse"},
		{"zero pool", "pool.json", `{"pool_capacity": 0}`, "pool_capacity"},
		{"tiny datagram", "dgram.json", `{"max_datagram_size": 8}`, "max_datagram_size"},
		{"payload below datagram", "payload.json", `{"max_frame_payload_size": 100}`, "max_frame_payload_size"},
		{"bad timeout", "timeout.json", `{"receive_timeout": "soon"}`, "receive_timeout"},
		{"negative timeout", "neg.json", `{"receive_timeout": "-1s"}`, "receive_timeout"},
		{"bad port", "port.json", `{"listen_port": 70000}`, "listen_port"},
		{"negative queue", "queue.json", `{"frame_queue_size": -1}`, "frame_queue_size"},
		{"bad byte order", "order.json", `{"byte_order": "middle"}`, "byte_order"},
		{"bad log interval", "log.json", `{"log_interval": "often"}`, "log_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadReceiverConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadReceiverConfig_MissingFile(t *testing.T) {
	_, err := LoadReceiverConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to stat")
}

func TestLoadReceiverConfig_DefaultsFile(t *testing.T) {
	cfg, err := LoadReceiverConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, DefaultReceiverConfig().GetListenAddress(), cfg.GetListenAddress())
	assert.Equal(t, DefaultPoolCapacity, cfg.GetPoolCapacity())
	assert.Equal(t, DefaultReceiveTimeout, cfg.GetReceiveTimeout())
}
