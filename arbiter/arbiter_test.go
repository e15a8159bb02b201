package arbiter

import "testing"

type fakeLine struct{ closed bool }

func (f *fakeLine) ConfigureInput(bool) error  { return nil }
func (f *fakeLine) ConfigureOutput(bool) error { return nil }
func (f *fakeLine) Set(bool)                   {}
func (f *fakeLine) Get() bool                  { return false }
func (f *fakeLine) Close() error               { f.closed = true; return nil }

type fakeLines struct{ opened map[int]*fakeLine }

func newFakeLines() *fakeLines { return &fakeLines{opened: map[int]*fakeLine{}} }

func (f *fakeLines) OpenLine(pin int) (Line, error) {
	l := &fakeLine{}
	f.opened[pin] = l
	return l, nil
}

type fakeBus struct{ closed bool }

func (b *fakeBus) Tx(addr uint16, w, r []byte) error { return nil }
func (b *fakeBus) Close() error                      { b.closed = true; return nil }

type fakeI2C struct{ opens int }

func (f *fakeI2C) OpenPort(port string, sda, scl int, freqHz int) (I2CBus, error) {
	f.opens++
	return &fakeBus{}, nil
}

func TestAcquireGPIOExclusiveRejectsSecondOwner(t *testing.T) {
	a := New(newFakeLines(), nil, Limits{})
	h1, err := a.AcquireGPIO(5, PurposeGPIO)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.AcquireGPIO(5, PurposeGPIO); err == nil {
		t.Fatal("expected second exclusive claim to fail")
	}
	h1.Release()
	if _, err := a.AcquireGPIO(5, PurposeGPIO); err != nil {
		t.Fatalf("expected pin free after release, got %v", err)
	}
}

func TestAcquireGPIOBusPurposeShares(t *testing.T) {
	a := New(newFakeLines(), nil, Limits{})
	h1, err := a.AcquireGPIO(9, PurposeBus)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := a.AcquireGPIO(9, PurposeBus)
	if err != nil {
		t.Fatalf("expected second bus-purpose claim to share, got %v", err)
	}
	if _, err := a.AcquireGPIO(9, PurposeGPIO); err == nil {
		t.Fatal("expected exclusive claim over a shared bus pin to fail")
	}
	h1.Release()
	h2.Release()
}

func TestAcquireTimerSharesIdenticalConfig(t *testing.T) {
	a := New(nil, nil, Limits{MaxTimers: 2})
	cfg := TimerConfig{SpeedMode: 0, ResolutionBits: 10, FreqHz: 5000, TimerNumber: 0}
	h1, err := a.AcquireTimer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := a.AcquireTimer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if h1.SlotNumber() != h2.SlotNumber() {
		t.Fatal("expected identical configs to share the same slot")
	}

	other := TimerConfig{SpeedMode: 0, ResolutionBits: 10, FreqHz: 1000, TimerNumber: 1}
	h3, err := a.AcquireTimer(other)
	if err != nil {
		t.Fatal(err)
	}
	if h3.SlotNumber() == h1.SlotNumber() {
		t.Fatal("expected distinct config to get a distinct slot")
	}

	if _, err := a.AcquireTimer(TimerConfig{TimerNumber: 9}); err == nil {
		t.Fatal("expected no free timer slots left")
	}
}

func TestAcquireChannelExclusive(t *testing.T) {
	a := New(nil, nil, Limits{MaxChannels: 1})
	h, err := a.AcquireChannel()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.AcquireChannel(); err == nil {
		t.Fatal("expected no free channels left")
	}
	h.Release()
	if _, err := a.AcquireChannel(); err != nil {
		t.Fatalf("expected channel free after release, got %v", err)
	}
}

func TestAcquireI2CSharesPortAndHoldsPins(t *testing.T) {
	lines := newFakeLines()
	i2c := &fakeI2C{}
	a := New(lines, i2c, Limits{})

	h1, err := a.AcquireI2C("i2c0", 2, 3, 100000)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := a.AcquireI2C("i2c0", 2, 3, 100000)
	if err != nil {
		t.Fatal(err)
	}
	if i2c.opens != 1 {
		t.Fatalf("expected port opened once, got %d", i2c.opens)
	}
	if _, err := a.AcquireGPIO(2, PurposeGPIO); err == nil {
		t.Fatal("expected sda pin held as bus purpose to reject exclusive claim")
	}

	h1.Release()
	h2.Release()
	if _, err := a.AcquireGPIO(2, PurposeGPIO); err != nil {
		t.Fatalf("expected sda pin free after last i2c release, got %v", err)
	}
}
