package bme280

import (
	"encoding/json"
	"testing"

	"aquacore/arbiter"
	"aquacore/device"
)

type fakeLine struct{}

func (fakeLine) ConfigureInput(bool) error  { return nil }
func (fakeLine) ConfigureOutput(bool) error { return nil }
func (fakeLine) Set(bool)                   {}
func (fakeLine) Get() bool                  { return false }
func (fakeLine) Close() error               { return nil }

type fakeLines struct{}

func (fakeLines) OpenLine(int) (arbiter.Line, error) { return fakeLine{}, nil }

type fakeBus struct{}

func (fakeBus) Tx(addr uint16, w, r []byte) error {
	for i := range r {
		r[i] = byte(i + 1)
	}
	return nil
}
func (fakeBus) Close() error { return nil }

type fakeI2C struct{}

func (fakeI2C) OpenPort(port string, sda, scl, freq int) (arbiter.I2CBus, error) { return fakeBus{}, nil }

func TestReadBeforeUpdateFails(t *testing.T) {
	arb := arbiter.New(fakeLines{}, fakeI2C{}, arbiter.Limits{})
	b, _ := json.Marshal(Config{Address: 0x76, Port: "i2c0"})
	var cfg device.Config
	cfg.DriverName = Name
	cfg.SetPayload(b)
	d, err := build(cfg, arb)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadValue("temperature"); err == nil {
		t.Fatal("expected no reading before first update")
	}
}

func TestUpdateThenReadBothChannels(t *testing.T) {
	arb := arbiter.New(fakeLines{}, fakeI2C{}, arbiter.Limits{})
	b, _ := json.Marshal(Config{Address: 0x76, Port: "i2c0"})
	var cfg device.Config
	cfg.DriverName = Name
	cfg.SetPayload(b)
	d, err := build(cfg, arb)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.UpdateRuntimeData(); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadValue("temperature"); err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadValue("humidity"); err != nil {
		t.Fatal(err)
	}
}
