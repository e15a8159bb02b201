package boot

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"aquacore/arbiter"
	"aquacore/device"
	"aquacore/errcode"
	"aquacore/httpapi"
	"aquacore/persistence"
	"aquacore/registry"
	"aquacore/schedule"
	"aquacore/store"
	"aquacore/switchctrl"
	"aquacore/taskpool"
	"aquacore/x/logx"

	_ "aquacore/drivers/ads111x"
	_ "aquacore/drivers/bme280"
	_ "aquacore/drivers/dhtxx"
	"aquacore/drivers/dosingpump"
	_ "aquacore/drivers/drv8825"
	_ "aquacore/drivers/ds18x20"
	_ "aquacore/drivers/gpioexpander"
	_ "aquacore/drivers/loadcell"
	"aquacore/drivers/phprobe"
	_ "aquacore/drivers/picocompanion"
	_ "aquacore/drivers/pin"
)

var log = logx.For("boot")

// maxDevices bounds the registry's slot array; generous for an aquarium
// controller's device count (spec §4.3 leaves the bound to the deployer).
const maxDevices = 64

// System is every long-lived component boot wiring constructs, returned
// so the entrypoint can drive its lifecycle.
type System struct {
	Env      Environment
	Arbiter  *arbiter.Arbiter
	Registry *registry.Registry
	Store    *store.Store
	Pool     *taskpool.Pool
	Volume   persistence.Volume
	HTTP     *http.Server

	switches  []*switchctrl.Controller
	schedules []*scheduleRunner

	poolDone chan struct{}
	cancel   context.CancelFunc
}

// scheduleRunner ties one schedule.Engine to the device channels it
// drives and the persister that round-trips its firing state.
type scheduleRunner struct {
	engine  *schedule.Engine
	targets map[string]resolvedScheduleTarget
	reg     *registry.Registry
	store   *store.Store
	persist *persistence.SnapshotPersister[schedule.PersistedState]
}

// resolvedScheduleTarget is a ScheduleChannelTarget with its device name
// resolved to a registry slot index once at wiring time, the way
// wireSwitches resolves a switch's read/write devices: the registry is
// addressed by index, while the store's value cache (a separate, purely
// name-keyed record) still keys on the device name.
type resolvedScheduleTarget struct {
	Index      int
	DeviceName string
	Channel    string
	Unit       device.Unit
}

// persistingRegistry wraps *registry.Registry so every mutating call that
// succeeds re-snapshots the device table to devices.bin (spec §4.9: the
// registry's config is persisted on every AddDevice/RemoveDevice/
// CallAction, the same way the event store persists on every WriteEvent).
type persistingRegistry struct {
	*registry.Registry
	persist *persistence.SnapshotPersister[[]registry.ConfigEntry]
}

func (p *persistingRegistry) CreateDevice(index *int, name string, cfg device.Config) (int, error) {
	idx, err := p.Registry.CreateDevice(index, name, cfg)
	if err != nil {
		return -1, err
	}
	p.save()
	return idx, nil
}

func (p *persistingRegistry) RemoveDevice(index int) error {
	if err := p.Registry.RemoveDevice(index); err != nil {
		return err
	}
	p.save()
	return nil
}

func (p *persistingRegistry) CallAction(index int, action string, args []byte) error {
	if err := p.Registry.CallAction(index, action, args); err != nil {
		return err
	}
	p.save()
	return nil
}

func (p *persistingRegistry) save() {
	if p.persist == nil {
		return
	}
	if err := p.persist.Save(p.Registry.Snapshot()); err != nil {
		log.Error("persist device registry", "err", err)
	}
}

// Wire constructs every core component from env and returns the running
// System. It never fails solely because host hardware is unavailable:
// a GPIO/I2C provider that cannot be opened is logged and left nil, so a
// partially-populated board (or a CI sandbox with no /dev/gpiochip0)
// still boots with the software-only devices working.
func Wire(env Environment) (*System, error) {
	if env.TZ != "" {
		if loc, err := time.LoadLocation(env.TZ); err == nil {
			time.Local = loc
		} else {
			log.Error("load timezone", "tz", env.TZ, "err", err)
		}
	}

	arb := arbiter.New(openLines(), openI2C(), arbiter.Limits{})

	devPersist, err := persistence.NewSnapshotPersister[[]registry.ConfigEntry](filepath.Join(env.MountPoint, "devices.bin"))
	if err != nil {
		return nil, err
	}
	settingsPersist, err := persistence.NewSnapshotPersister[store.Settings](filepath.Join(env.MountPoint, "settings.bin"))
	if err != nil {
		return nil, err
	}
	devValuePersist, err := persistence.NewSnapshotPersister[store.DeviceStates](filepath.Join(env.MountPoint, "values.bin"))
	if err != nil {
		return nil, err
	}

	st, err := store.NewFromPersisted(devValuePersist, settingsPersist)
	if err != nil {
		return nil, err
	}

	plainReg := registry.New(arb, maxDevices)
	reg := &persistingRegistry{Registry: plainReg, persist: devPersist}

	if entries, err := devPersist.Load(); err != nil {
		log.Error("load persisted device table", "err", err)
	} else if len(entries) > 0 {
		plainReg.Restore(entries)
	}

	pool := taskpool.New()
	pool.ScheduleRecurring(env.MaintTick, env.MaintTick/4, plainReg.RunMaintenance)

	phprobe.SetSourceRegistry(plainReg)
	dosingpump.SetSinkRegistry(plainReg)
	dosingpump.Configure(pool)

	var vol persistence.Volume = &persistence.BufferVolume{}

	switches, err := wireSwitches(env, plainReg, st)
	if err != nil {
		return nil, err
	}
	schedules, err := wireSchedules(env, plainReg, st, pool, env.MountPoint)
	if err != nil {
		return nil, err
	}

	server := httpapi.NewServer(reg, vol, env.RateHz, env.RateBurst)
	httpSrv := httpapi.NewHTTPServer(env.HTTPAddr, server)

	ctx, cancel := context.WithCancel(context.Background())
	sys := &System{
		Env:       env,
		Arbiter:   arb,
		Registry:  plainReg,
		Store:     st,
		Pool:      pool,
		Volume:    vol,
		HTTP:      httpSrv,
		switches:  switches,
		schedules: schedules,
		poolDone:  make(chan struct{}),
		cancel:    cancel,
	}

	for _, c := range switches {
		go c.Run(ctx)
	}
	go sys.drivePool(ctx)

	return sys, nil
}

// Run starts the HTTP listener (blocking) and signals systemd readiness
// once wiring is complete (spec §2 "Boot & wiring").
func (s *System) Run() error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Error("systemd notify ready", "err", err)
	}
	log.Info("listening", "addr", s.Env.HTTPAddr)
	err := s.HTTP.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops every background goroutine, flushes pending debounced
// writes, and closes the HTTP server and every device driver.
func (s *System) Shutdown(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	s.cancel()
	<-s.poolDone
	for _, c := range s.switches {
		c.Stop()
	}
	s.Store.Flush()
	s.Registry.CloseAll()
	return s.HTTP.Shutdown(ctx)
}

func (s *System) drivePool(ctx context.Context) {
	defer close(s.poolDone)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Pool.DoWorkOnce(now)
		}
	}
}

func openLines() arbiter.LineProvider {
	p, err := arbiter.NewGpiodLineProvider("gpiochip0")
	if err != nil {
		log.Error("gpio line provider unavailable, GPIO-backed devices will fail to build", "err", err)
		return nil
	}
	return p
}

func openI2C() arbiter.I2CProvider {
	p, err := arbiter.NewPeriphI2CProvider()
	if err != nil {
		log.Error("i2c provider unavailable, I2C-backed devices will fail to build", "err", err)
		return nil
	}
	return p
}

func wireSwitches(env Environment, reg *registry.Registry, st *store.Store) ([]*switchctrl.Controller, error) {
	out := make([]*switchctrl.Controller, 0, len(env.Switches))
	for _, sw := range env.Switches {
		sw := sw
		unit, err := validateSwitchSpec(sw)
		if err != nil {
			return nil, err
		}
		readIdx, err := reg.IndexByName(sw.ReadDevice)
		if err != nil {
			return nil, errcode.Wrap("wire_switches", errcode.MalformedInput, err)
		}
		writeIdx, err := reg.IndexByName(sw.WriteDevice)
		if err != nil {
			return nil, errcode.Wrap("wire_switches", errcode.MalformedInput, err)
		}
		defaultHigh := strings.EqualFold(sw.Default, "high")

		target := func(now time.Time) (device.Value, bool, error) {
			reading, err := reg.ReadValue(readIdx, sw.ReadChannel)
			if err != nil {
				// Spec §4.7 step 3: a failed read still commands the
				// configured default, it does not skip the tick.
				return device.CreateFromUnit(unit, boolFloat(defaultHigh, sw.Low, sw.High)), true, nil
			}
			v, ok := reading.AsFloat64()
			if !ok {
				return device.CreateFromUnit(unit, boolFloat(defaultHigh, sw.Low, sw.High)), true, nil
			}
			diff := sw.Target - v
			if diff >= -sw.Allowed && diff <= sw.Allowed {
				return device.Value{}, false, nil
			}
			// Spec §4.7 step 2: diff < 0 (current above target) selects
			// low_value; otherwise (current below target) high_value.
			desired := sw.High
			if diff < 0 {
				desired = sw.Low
			}
			return device.CreateFromUnit(unit, desired), true, nil
		}
		c := switchctrl.New(reg, st, writeIdx, sw.WriteDevice, sw.WriteChannel, sw.Interval, target)
		out = append(out, c)
	}
	return out, nil
}

// boolFloat selects high when useHigh is true, else low; a small helper
// so wireSwitches reads the same way for both the tolerance-exceeded and
// read-failure-default branches.
func boolFloat(useHigh bool, low, high float64) float64 {
	if useHigh {
		return high
	}
	return low
}

func wireSchedules(env Environment, reg *registry.Registry, st *store.Store, pool *taskpool.Pool, mountPoint string) ([]*scheduleRunner, error) {
	runners := make([]*scheduleRunner, 0, len(env.Schedules))
	for _, spec := range env.Schedules {
		spec := spec
		mode, err := parseMode(spec.Mode)
		if err != nil {
			return nil, err
		}
		points, err := schedule.Parse(spec.Text)
		if err != nil {
			return nil, err
		}
		engine := schedule.NewEngine(spec.InstanceID, mode, points, spec.Bounds)

		statePersist, err := persistence.NewSnapshotPersister[schedule.PersistedState](filepath.Join(mountPoint, spec.InstanceID+".state"))
		if err != nil {
			return nil, err
		}
		if state, err := statePersist.Load(); err == nil {
			engine.Restore(state)
		}
		if err := writeScheduleConfigFile(mountPoint, spec); err != nil {
			log.Error("write schedule config file", "instance", spec.InstanceID, "err", err)
		}

		targets := make(map[string]resolvedScheduleTarget, len(spec.ChannelTargets))
		for chName, ct := range spec.ChannelTargets {
			unit, ok := device.ParseUnit(ct.Unit)
			if !ok {
				log.Error("unrecognised schedule channel unit, skipping channel", "instance", spec.InstanceID, "channel", chName, "unit", ct.Unit)
				continue
			}
			idx, err := reg.IndexByName(ct.Device)
			if err != nil {
				return nil, errcode.Wrap("wire_schedules", errcode.MalformedInput, err)
			}
			targets[chName] = resolvedScheduleTarget{Index: idx, DeviceName: ct.Device, Channel: ct.Channel, Unit: unit}
		}

		r := &scheduleRunner{engine: engine, targets: targets, reg: reg, store: st, persist: statePersist}
		pool.ScheduleRecurring(1*time.Second, 250*time.Millisecond, r.tick)
		runners = append(runners, r)
	}
	return runners, nil
}

// writeScheduleConfigFile persists the human-authored schedule definition
// as JSON (spec §4.9 "<creation_id>.json"), distinct from the CBOR
// .state file that holds only the engine's firing bookkeeping.
func writeScheduleConfigFile(mountPoint string, spec ScheduleSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return errcode.Wrap("write_schedule_config_file", errcode.PersistenceFailed, err)
	}
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return errcode.Wrap("write_schedule_config_file", errcode.PersistenceFailed, err)
	}
	return persistence.SafeWrite(filepath.Join(mountPoint, spec.InstanceID+".json"), data)
}

func (r *scheduleRunner) tick() {
	targets, err := r.engine.Evaluate(time.Now())
	if err != nil {
		log.Error("evaluate schedule", "instance", r.engine.InstanceID, "err", err)
		return
	}
	for _, t := range targets {
		ct, ok := r.targets[t.Channel]
		if !ok {
			continue
		}
		v := device.CreateFromUnit(ct.Unit, t.Value)
		if err := r.reg.WriteValue(ct.Index, ct.Channel, v); err != nil {
			log.Error("apply schedule target", "instance", r.engine.InstanceID, "channel", t.Channel, "err", err)
			continue
		}
		if r.store != nil {
			if err := r.store.SetDeviceValue(ct.DeviceName, ct.Channel, v, true); err != nil {
				log.Error("persist schedule target", "instance", r.engine.InstanceID, "channel", t.Channel, "err", err)
			}
		}
	}
	if err := r.persist.Save(r.engine.Snapshot()); err != nil {
		log.Error("persist schedule state", "instance", r.engine.InstanceID, "err", err)
	}
}
