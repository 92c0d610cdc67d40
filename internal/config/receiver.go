package config

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/tac3d.report/internal/tactile/l1datagrams"
)

// DefaultConfigPath is the path to the canonical receiver defaults file.
const DefaultConfigPath = "config/receiver.defaults.json"

// Defaults used when a field is omitted from the JSON document.
const (
	DefaultListenPort          = 9988
	DefaultPoolCapacity        = 10
	DefaultMaxDatagramSize     = 1400
	DefaultMaxFramePayloadSize = 1000000
	DefaultReceiveTimeout      = time.Second
	DefaultFrameQueueSize      = 5
	DefaultRcvBuf              = 4 << 20
	DefaultLogInterval         = time.Minute
	DefaultByteOrder           = "native"
)

// maxFileSize bounds the config file we are willing to read.
const maxFileSize = 1 * 1024 * 1024

// ReceiverConfig is the root configuration for the tactile frame receiver.
// Every field is optional; Get* methods fall back to the defaults above so a
// partial document is safe.
type ReceiverConfig struct {
	// Transport
	ListenAddress *string `json:"listen_address,omitempty"`
	ListenPort    *int    `json:"listen_port,omitempty"`
	RcvBuf        *int    `json:"rcv_buf,omitempty"`

	// Reassembly
	PoolCapacity        *int    `json:"pool_capacity,omitempty"`
	MaxDatagramSize     *int    `json:"max_datagram_size,omitempty"`
	MaxFramePayloadSize *int    `json:"max_frame_payload_size,omitempty"`
	ReceiveTimeout      *string `json:"receive_timeout,omitempty"` // duration string like "1s"
	ByteOrder           *string `json:"byte_order,omitempty"`      // native, little or big

	// Delivery
	FrameQueueSize *int `json:"frame_queue_size,omitempty"`

	// Diagnostics
	LogInterval *string `json:"log_interval,omitempty"`
	Verbose     *bool   `json:"verbose,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }

// EmptyReceiverConfig returns a ReceiverConfig with all fields set to nil.
func EmptyReceiverConfig() *ReceiverConfig {
	return &ReceiverConfig{}
}

// DefaultReceiverConfig returns a config with every field populated from the
// package defaults. It is what the defaults file on disk contains.
func DefaultReceiverConfig() *ReceiverConfig {
	return &ReceiverConfig{
		ListenAddress:       ptrString(""),
		ListenPort:          ptrInt(DefaultListenPort),
		RcvBuf:              ptrInt(DefaultRcvBuf),
		PoolCapacity:        ptrInt(DefaultPoolCapacity),
		MaxDatagramSize:     ptrInt(DefaultMaxDatagramSize),
		MaxFramePayloadSize: ptrInt(DefaultMaxFramePayloadSize),
		ReceiveTimeout:      ptrString(DefaultReceiveTimeout.String()),
		ByteOrder:           ptrString(DefaultByteOrder),
		FrameQueueSize:      ptrInt(DefaultFrameQueueSize),
		LogInterval:         ptrString(DefaultLogInterval.String()),
		Verbose:             ptrBool(false),
	}
}

// LoadReceiverConfig loads a ReceiverConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadReceiverConfig(path string) (*ReceiverConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyReceiverConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *ReceiverConfig) Validate() error {
	if c.ListenPort != nil {
		if *c.ListenPort < 0 || *c.ListenPort > 65535 {
			return fmt.Errorf("listen_port must be between 0 and 65535, got %d", *c.ListenPort)
		}
	}

	if c.PoolCapacity != nil && *c.PoolCapacity < 1 {
		return fmt.Errorf("pool_capacity must be at least 1, got %d", *c.PoolCapacity)
	}

	// The sub-header alone is 8 bytes; anything at or below that carries no payload.
	if c.MaxDatagramSize != nil {
		if *c.MaxDatagramSize <= 8 || *c.MaxDatagramSize > 65507 {
			return fmt.Errorf("max_datagram_size must be between 9 and 65507, got %d", *c.MaxDatagramSize)
		}
	}

	if c.MaxFramePayloadSize != nil && *c.MaxFramePayloadSize < c.GetMaxDatagramSize() {
		return fmt.Errorf("max_frame_payload_size must be at least max_datagram_size (%d), got %d",
			c.GetMaxDatagramSize(), *c.MaxFramePayloadSize)
	}

	if c.ReceiveTimeout != nil && *c.ReceiveTimeout != "" {
		d, err := time.ParseDuration(*c.ReceiveTimeout)
		if err != nil {
			return fmt.Errorf("invalid receive_timeout '%s': %w", *c.ReceiveTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("receive_timeout must be positive, got %s", d)
		}
	}

	if c.ByteOrder != nil {
		if _, err := l1datagrams.ParseByteOrder(*c.ByteOrder); err != nil {
			return fmt.Errorf("invalid byte_order: %w", err)
		}
	}

	if c.FrameQueueSize != nil && *c.FrameQueueSize < 0 {
		return fmt.Errorf("frame_queue_size must be non-negative, got %d", *c.FrameQueueSize)
	}

	if c.RcvBuf != nil && *c.RcvBuf < 0 {
		return fmt.Errorf("rcv_buf must be non-negative, got %d", *c.RcvBuf)
	}

	if c.LogInterval != nil && *c.LogInterval != "" {
		if _, err := time.ParseDuration(*c.LogInterval); err != nil {
			return fmt.Errorf("invalid log_interval '%s': %w", *c.LogInterval, err)
		}
	}

	return nil
}

// GetListenAddress returns the UDP bind address as host:port.
func (c *ReceiverConfig) GetListenAddress() string {
	host := ""
	if c.ListenAddress != nil {
		host = *c.ListenAddress
	}
	return fmt.Sprintf("%s:%d", host, c.GetListenPort())
}

// GetListenPort returns the listen_port value or the default.
func (c *ReceiverConfig) GetListenPort() int {
	if c.ListenPort == nil {
		return DefaultListenPort
	}
	return *c.ListenPort
}

// GetRcvBuf returns the rcv_buf value or the default.
func (c *ReceiverConfig) GetRcvBuf() int {
	if c.RcvBuf == nil {
		return DefaultRcvBuf
	}
	return *c.RcvBuf
}

// GetPoolCapacity returns the pool_capacity value or the default.
func (c *ReceiverConfig) GetPoolCapacity() int {
	if c.PoolCapacity == nil {
		return DefaultPoolCapacity
	}
	return *c.PoolCapacity
}

// GetMaxDatagramSize returns the max_datagram_size value or the default.
func (c *ReceiverConfig) GetMaxDatagramSize() int {
	if c.MaxDatagramSize == nil {
		return DefaultMaxDatagramSize
	}
	return *c.MaxDatagramSize
}

// GetMaxFramePayloadSize returns the max_frame_payload_size value or the default.
func (c *ReceiverConfig) GetMaxFramePayloadSize() int {
	if c.MaxFramePayloadSize == nil {
		return DefaultMaxFramePayloadSize
	}
	return *c.MaxFramePayloadSize
}

// GetReceiveTimeout parses and returns the ReceiveTimeout as a time.Duration.
func (c *ReceiverConfig) GetReceiveTimeout() time.Duration {
	if c.ReceiveTimeout == nil || *c.ReceiveTimeout == "" {
		return DefaultReceiveTimeout
	}
	d, err := time.ParseDuration(*c.ReceiveTimeout)
	if err != nil || d <= 0 {
		return DefaultReceiveTimeout
	}
	return d
}

// GetByteOrder returns the configured sub-header and field byte order.
// An invalid name, which Validate rejects, falls back to the host order.
func (c *ReceiverConfig) GetByteOrder() binary.ByteOrder {
	name := DefaultByteOrder
	if c.ByteOrder != nil {
		name = *c.ByteOrder
	}
	order, err := l1datagrams.ParseByteOrder(name)
	if err != nil {
		return binary.NativeEndian
	}
	return order
}

// GetFrameQueueSize returns the frame_queue_size value or the default.
func (c *ReceiverConfig) GetFrameQueueSize() int {
	if c.FrameQueueSize == nil {
		return DefaultFrameQueueSize
	}
	return *c.FrameQueueSize
}

// GetLogInterval parses and returns the LogInterval as a time.Duration.
func (c *ReceiverConfig) GetLogInterval() time.Duration {
	if c.LogInterval == nil || *c.LogInterval == "" {
		return DefaultLogInterval
	}
	d, err := time.ParseDuration(*c.LogInterval)
	if err != nil {
		return DefaultLogInterval
	}
	return d
}

// GetVerbose returns the verbose value or the default.
func (c *ReceiverConfig) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
