package picocompanion

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"aquacore/arbiter"
	"aquacore/device"
)

type fakeBus struct {
	memMap []byte
}

func (f *fakeBus) Tx(addr uint16, w, r []byte) error {
	if r != nil {
		copy(r, f.memMap)
		return nil
	}
	// w[0] is the offset byte, the rest is the payload (see writeRange).
	offset := int(w[0])
	copy(f.memMap[offset:], w[1:])
	return nil
}
func (f *fakeBus) Close() error { return nil }

type fakeI2C struct{ bus *fakeBus }

func (f *fakeI2C) OpenPort(port string, sda, scl, freq int) (arbiter.I2CBus, error) { return f.bus, nil }

func newDriver(t *testing.T, bus *fakeBus) *Driver {
	t.Helper()
	arb := arbiter.New(nil, &fakeI2C{bus: bus}, arbiter.Limits{})
	cfg := Config{
		Address: 0x42,
		Port:    "i2c0",
		Devices: []SubDevice{
			{Tag: "FPWM", Kind: KindPWM, Offset: 0},
			{Tag: "A", Kind: KindADC, Offset: 2},
			{Tag: "OUT", Kind: KindOutput, Offset: 4},
		},
	}
	b, _ := json.Marshal(cfg)
	var dc device.Config
	dc.DriverName = Name
	dc.SetPayload(b)
	drv, err := build(dc, arb)
	if err != nil {
		t.Fatal(err)
	}
	return drv.(*Driver)
}

func TestWriteValueUpdatesOnlyAffectedRange(t *testing.T) {
	bus := &fakeBus{memMap: make([]byte, 5)}
	d := newDriver(t, bus)
	defer d.Close()

	if err := d.WriteValue("FPWM", device.PWMVal(1023)); err != nil {
		t.Fatal(err)
	}
	got := binary.LittleEndian.Uint16(bus.memMap[0:2])
	if got != 1023 {
		t.Fatalf("expected bus memory updated to 1023, got %d", got)
	}
}

func TestWriteValueRejectsReadOnlyADC(t *testing.T) {
	bus := &fakeBus{memMap: make([]byte, 5)}
	d := newDriver(t, bus)
	defer d.Close()

	if err := d.WriteValue("A", device.AnalogVal(10)); err == nil {
		t.Fatal("expected write to adc sub-device to fail")
	}
}

func TestReadValueRefreshesFromBus(t *testing.T) {
	bus := &fakeBus{memMap: make([]byte, 5)}
	binary.LittleEndian.PutUint16(bus.memMap[2:4], 777)
	d := newDriver(t, bus)
	defer d.Close()

	v, err := d.ReadValue("A")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := device.GetAs[uint16](v, device.Analog)
	if !ok || got != 777 {
		t.Fatalf("expected 777, got %v ok=%v", got, ok)
	}
}

func TestUnknownTagRejected(t *testing.T) {
	bus := &fakeBus{memMap: make([]byte, 5)}
	d := newDriver(t, bus)
	defer d.Close()

	if _, err := d.ReadValue("nope"); err == nil {
		t.Fatal("expected unknown tag to fail")
	}
}

func TestDumpActionRefreshesMap(t *testing.T) {
	bus := &fakeBus{memMap: make([]byte, 5)}
	bus.memMap[4] = 1
	d := newDriver(t, bus)
	defer d.Close()

	if err := d.CallAction("dump", nil); err != nil {
		t.Fatal(err)
	}
	v, err := d.ReadValue("OUT")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := device.GetAs[bool](v, device.Enable)
	if !got {
		t.Fatal("expected OUT to read true after dump refresh")
	}
}
