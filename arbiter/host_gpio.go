package arbiter

import (
	"fmt"

	"github.com/warthog618/gpiod"
)

// GpiodLineProvider is the host LineProvider backed by warthog618/gpiod,
// talking to the kernel gpiochip character device.
type GpiodLineProvider struct {
	chip *gpiod.Chip
}

// NewGpiodLineProvider opens the named gpiochip (e.g. "gpiochip0").
func NewGpiodLineProvider(chipName string) (*GpiodLineProvider, error) {
	chip, err := gpiod.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("arbiter: open %s: %w", chipName, err)
	}
	return &GpiodLineProvider{chip: chip}, nil
}

func (p *GpiodLineProvider) Close() error { return p.chip.Close() }

func (p *GpiodLineProvider) OpenLine(pin int) (Line, error) {
	l, err := p.chip.RequestLine(pin, gpiod.AsInput)
	if err != nil {
		return nil, fmt.Errorf("arbiter: request line %d: %w", pin, err)
	}
	return &gpiodLine{line: l}, nil
}

// gpiodLine adapts gpiod.Line, which fixes its direction at request time,
// to the reconfigurable Line interface by calling Reconfigure on the
// existing line request whenever direction changes.
type gpiodLine struct {
	line   *gpiod.Line
	pin    int
	output bool
}

func (g *gpiodLine) ConfigureInput(pullUp bool) error {
	opts := []gpiod.LineReqOption{gpiod.AsInput}
	if pullUp {
		opts = append(opts, gpiod.WithPullUp)
	} else {
		opts = append(opts, gpiod.WithPullDown)
	}
	if err := g.line.Reconfigure(opts...); err != nil {
		return err
	}
	g.output = false
	return nil
}

func (g *gpiodLine) ConfigureOutput(initial bool) error {
	v := 0
	if initial {
		v = 1
	}
	if err := g.line.Reconfigure(gpiod.AsOutput(v)); err != nil {
		return err
	}
	g.output = true
	return nil
}

func (g *gpiodLine) Set(level bool) {
	if !g.output {
		return
	}
	v := 0
	if level {
		v = 1
	}
	_ = g.line.SetValue(v)
}

func (g *gpiodLine) Get() bool {
	v, err := g.line.Value()
	if err != nil {
		return false
	}
	return v != 0
}

func (g *gpiodLine) Close() error { return g.line.Close() }
