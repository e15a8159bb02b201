// Package registry implements the device registry of spec §4.3: the
// runtime catalogue of configured device drivers, built on top of the
// event access array (package slot). Every device is addressed primarily
// by its numeric slot index, the way spec §4.2/§4.3's dispatch verbs do
// (AddDevice{index?}, RemoveDevice{index}, ReadFromDevice{index, what});
// a device's name is a secondary, resolved-to-index lookup key, used by
// drivers and boot wiring that reference another device by a stable
// human name rather than its slot position (see DESIGN.md).
package registry

import (
	"sync"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/store/slot"
	"aquacore/x/logx"
)

// Info is the static description a driver reports about itself.
type Info struct {
	DriverName string
	Channels   []string
}

// Driver is the capability contract every concrete device driver
// implements (spec §4.3 "Driver capability contract").
type Driver interface {
	GetInfo() Info
	WriteValue(channel string, v device.Value) error
	ReadValue(channel string) (device.Value, error)
	CallAction(action string, args []byte) error
	UpdateRuntimeData() error
	Close() error
}

// Builder constructs a Driver from its persisted configuration. arb is
// nil-safe: drivers that don't need hardware resources ignore it.
type Builder func(cfg device.Config, arb *arbiter.Arbiter) (Driver, error)

var (
	buildersMu sync.Mutex
	builders   = map[string]Builder{}
)

// RegisterBuilder associates a driver type name with its constructor.
// Intended to be called from a driver package's init(); registering the
// same name twice is a programming error and panics, matching the
// teacher's registration discipline.
func RegisterBuilder(name string, b Builder) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	if _, exists := builders[name]; exists {
		panic("registry: duplicate builder registration: " + name)
	}
	builders[name] = b
}

func lookupBuilder(name string) (Builder, bool) {
	buildersMu.Lock()
	defer buildersMu.Unlock()
	b, ok := builders[name]
	return b, ok
}

type entry struct {
	driver Driver
	cfg    device.Config
}

// Registry is the capacity-bounded table of live device instances.
type Registry struct {
	mu    sync.RWMutex
	arb   *arbiter.Arbiter
	array *slot.Array[entry]
	log   interface {
		Error(string, ...any)
	}
}

// New creates a Registry with room for capacity devices.
func New(arb *arbiter.Arbiter, capacity int) *Registry {
	return &Registry{
		arb:   arb,
		array: slot.New[entry](capacity),
		log:   logx.For("registry"),
	}
}

// CreateDevice instantiates a driver named cfg.DriverName under the given
// device name, resolving the target slot the way spec §4.2's AddDevice
// dispatch does: index, when non-nil, selects the slot directly (a PUT
// /devices/{i}); otherwise a slot already named name is reused, otherwise
// the first free slot is taken. Returns the slot index the device landed
// in. The old driver occupying that slot, if any, is closed only after
// the new one builds successfully.
func (r *Registry) CreateDevice(index *int, name string, cfg device.Config) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	builder, ok := lookupBuilder(cfg.DriverName)
	if !ok {
		return -1, errcode.New("create_device", errcode.NotSupported, "unknown driver type: "+cfg.DriverName)
	}

	var old Driver
	if idx, err := r.array.Resolve(index, name); err == nil {
		if prev, err := r.array.GetAt(idx); err == nil {
			old = prev.driver
		}
	}

	idx, err := r.array.AssignAt(index, name, func() (entry, error) {
		d, err := builder(cfg, r.arb)
		if err != nil {
			return entry{}, err
		}
		return entry{driver: d, cfg: cfg}, nil
	})
	if err != nil {
		return -1, err
	}
	if old != nil {
		if cerr := old.Close(); cerr != nil {
			r.log.Error("close previous driver instance", "device", name, "index", idx, "err", cerr)
		}
	}
	return idx, nil
}

// RemoveDevice closes and removes the device at index.
func (r *Registry) RemoveDevice(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.array.GetAt(index)
	if err != nil {
		return err
	}
	if err := r.array.RemoveAt(index); err != nil {
		return err
	}
	return e.driver.Close()
}

// WriteValue dispatches a value write to the indexed device's channel.
func (r *Registry) WriteValue(index int, channel string, v device.Value) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.array.GetAt(index)
	if err != nil {
		return err
	}
	return e.driver.WriteValue(channel, v)
}

// ReadValue reads the indexed device's channel.
func (r *Registry) ReadValue(index int, channel string) (device.Value, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.array.GetAt(index)
	if err != nil {
		return device.Value{}, err
	}
	return e.driver.ReadValue(channel)
}

// CallAction dispatches a named, opaque action to the indexed device.
func (r *Registry) CallAction(index int, action string, args []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.array.GetAt(index)
	if err != nil {
		return err
	}
	return e.driver.CallAction(action, args)
}

// Info returns the static description of the indexed device.
func (r *Registry) Info(index int) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, err := r.array.GetAt(index)
	if err != nil {
		return Info{}, err
	}
	return e.driver.GetInfo(), nil
}

// IndexByName resolves a device name to its current slot index. Boot
// wiring and drivers that reference another device by a persisted, stable
// name (rather than an index that may shift as other devices are added or
// removed) use this once to translate into the index-primary calls above.
func (r *Registry) IndexByName(name string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.array.IndexOfName(name)
}

// WriteValueByName resolves name to its slot and writes channel, for
// callers that only ever know a device by name (spec-external
// cross-references such as a dosing pump's configured downstream device).
func (r *Registry) WriteValueByName(name, channel string, v device.Value) error {
	r.mu.RLock()
	idx, err := r.array.IndexOfName(name)
	if err != nil {
		r.mu.RUnlock()
		return err
	}
	e, err := r.array.GetAt(idx)
	r.mu.RUnlock()
	if err != nil {
		return err
	}
	return e.driver.WriteValue(channel, v)
}

// ReadValueByName resolves name to its slot and reads channel.
func (r *Registry) ReadValueByName(name, channel string) (device.Value, error) {
	r.mu.RLock()
	idx, err := r.array.IndexOfName(name)
	if err != nil {
		r.mu.RUnlock()
		return device.Value{}, err
	}
	e, err := r.array.GetAt(idx)
	r.mu.RUnlock()
	if err != nil {
		return device.Value{}, err
	}
	return e.driver.ReadValue(channel)
}

// NameByIndex returns the configured name of the device at index.
func (r *Registry) NameByIndex(index int) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.array.NameAt(index)
}

// Overview lists every configured device's index and name.
func (r *Registry) Overview() []slot.Overview {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.array.Overview()
}

// RunMaintenance calls UpdateRuntimeData on every configured driver,
// intended to be invoked periodically from the task pool. A single
// driver's failure is logged and does not block the others.
func (r *Registry) RunMaintenance() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.array.Each(func(index int, name string, e *entry) {
		if err := e.driver.UpdateRuntimeData(); err != nil {
			r.log.Error("update runtime data", "device", name, "index", index, "err", err)
		}
	})
}

// ConfigEntry is one persisted device: its name and its driver
// configuration, the exact pair the persistence layer commits to
// devices.bin (spec §4.9 "snapshots ... are raw trivially-copyable
// records"). Entries are replayed in slot order on Restore, so a device's
// index is reproduced implicitly rather than stored explicitly (see
// DESIGN.md).
type ConfigEntry struct {
	Name   string
	Config device.Config
}

// Snapshot returns every configured device's persisted form, in slot
// order. Boot's persisting registry wrapper hands this to the persistence
// layer after every successful CreateDevice/RemoveDevice/CallAction made
// through it.
func (r *Registry) Snapshot() []ConfigEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConfigEntry, 0, r.array.Len())
	r.array.Each(func(index int, name string, e *entry) {
		out = append(out, ConfigEntry{Name: name, Config: e.cfg})
	})
	return out
}

// Restore rebuilds every driver from a previously persisted snapshot
// (spec §4.2's "assign/rebuild" generalized to boot time): a device that
// fails to rebuild from its persisted bytes is logged and skipped rather
// than left registered against a missing runtime object (resolved Open
// Question, see DESIGN.md). Entries are replayed in the order Snapshot
// produced them, onto a freshly-empty array, so each device is reassigned
// the same slot index it held before (first-free-slot assignment is
// deterministic over an empty array walked in the same order).
func (r *Registry) Restore(entries []ConfigEntry) {
	for _, e := range entries {
		if _, err := r.CreateDevice(nil, e.Name, e.Config); err != nil {
			r.log.Error("restore device", "device", e.Name, "err", err)
		}
	}
}

// CloseAll closes every configured driver, in registration order.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.array.Each(func(index int, name string, e *entry) {
		if err := e.driver.Close(); err != nil {
			r.log.Error("close driver", "device", name, "index", index, "err", err)
		}
	})
}
