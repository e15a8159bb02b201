package device

// System-wide size constants (spec §3 "Device config").
const (
	MaxNameLength   = 32
	MaxConfigBytes  = 256
	MaxChannels     = 4
	MaxChannelName  = 8
	TimePointsPerDay = 12
)

// Config is the canonical persisted form of a driver: its registered type
// name plus an opaque, fixed-size byte buffer the driver alone knows how to
// interpret. The buffer is what every builder encodes into and decodes from;
// it is also exactly what the persistence layer writes to flash.
type Config struct {
	DriverName string
	Bytes      [MaxConfigBytes]byte
	Len        int // bytes actually used within Bytes
}

// Payload returns the meaningful slice of Bytes.
func (c *Config) Payload() []byte { return c.Bytes[:c.Len] }

// SetPayload copies p into Bytes, truncating is rejected rather than
// silently dropping data: callers must ensure p fits.
func (c *Config) SetPayload(p []byte) bool {
	if len(p) > len(c.Bytes) {
		return false
	}
	n := copy(c.Bytes[:], p)
	c.Len = n
	return true
}
