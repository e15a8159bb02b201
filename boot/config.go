// Package boot wires the independently-tested core packages (arbiter,
// registry, store, taskpool, schedule, switchctrl, httpapi) into one
// running process: the boot & wiring layer of spec §2 and §6
// "Environment" (grounded in the teacher's services/config package,
// generalized from an in-process retained-message publisher to a
// YAML-file-backed environment, since aquacore has no message bus
// standing in for a config service at boot time).
package boot

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"aquacore/device"
	"aquacore/errcode"
	"aquacore/schedule"
)

// Environment is the boot-time configuration loaded from a YAML file:
// network credentials, NTP peer, hostname, timezone, the mount point of
// the persisted-state partition, and the devices that drive against it
// (spec §6 "Environment", §4.6, §4.7).
type Environment struct {
	WifiSSID     string        `yaml:"wifi_ssid"`
	WifiPassword string        `yaml:"wifi_password"`
	NTPPeer      string        `yaml:"ntp_peer"`
	Hostname     string        `yaml:"hostname"`
	TZ           string        `yaml:"tz"`
	MountPoint   string        `yaml:"mount_point"`
	HTTPAddr     string        `yaml:"http_addr"`
	RateHz       float64       `yaml:"rate_hz"`
	RateBurst    int64         `yaml:"rate_burst"`
	MaintTick    time.Duration `yaml:"maintenance_tick"`

	Switches  []SwitchSpec  `yaml:"switches"`
	Schedules []ScheduleSpec `yaml:"schedules"`
}

// SwitchSpec configures one switchctrl.Controller: it drives WriteDevice/
// WriteChannel toward keeping ReadDevice/ReadChannel at Target, within
// Allowed tolerance, choosing Low or High when outside it and Default
// when the read itself fails (spec §4.7, §3 "Switch config"). WriteUnit
// selects the unit the written value is carried in (any of spec §6's
// wire aliases); it defaults to enable, matching the spec's worked
// low=0/high=1 examples.
type SwitchSpec struct {
	WriteDevice  string        `yaml:"write_device"`
	WriteChannel string        `yaml:"write_channel"`
	ReadDevice   string        `yaml:"read_device"`
	ReadChannel  string        `yaml:"read_channel"`
	WriteUnit    string        `yaml:"write_unit"`
	Target       float64       `yaml:"target"`
	Allowed      float64       `yaml:"allowed"`
	Low          float64       `yaml:"low"`
	High         float64       `yaml:"high"`
	Default      string        `yaml:"default"` // "low" or "high"
	Interval     time.Duration `yaml:"interval"`
}

// ScheduleChannelTarget maps one schedule channel name to the device
// channel it drives and the unit its values are carried in.
type ScheduleChannelTarget struct {
	Device  string `yaml:"device"`
	Channel string `yaml:"channel"`
	Unit    string `yaml:"unit"`
}

// ScheduleSpec configures one schedule.Engine and the device channels its
// evaluated targets are written to (spec §4.6).
type ScheduleSpec struct {
	InstanceID     string                          `yaml:"instance_id"`
	Mode           string                          `yaml:"mode"` // interpolate|action|action_hold
	Text           string                          `yaml:"text"`
	Bounds         map[string]schedule.Range        `yaml:"bounds"`
	ChannelTargets map[string]ScheduleChannelTarget `yaml:"channel_targets"`
}

// validateSwitchSpec checks the creation-time invariants spec §4.7
// requires: both device ids are named (the registry resolves whether they
// actually exist), the read and write devices are not the same device (to
// prevent a switch feeding back into its own reading, a self-loop), and
// the unit tag every one of target/low/high/difference is carried in
// parses to a single recognised unit (our model carries them all in one
// WriteUnit, so "alignment" collapses to that unit being well-formed). It
// returns the parsed unit for the caller to reuse.
func validateSwitchSpec(spec SwitchSpec) (device.Unit, error) {
	if spec.ReadDevice == "" || spec.WriteDevice == "" {
		return 0, errcode.New("validate_switch_spec", errcode.MalformedInput, "read_device and write_device are required")
	}
	if spec.ReadDevice == spec.WriteDevice {
		return 0, errcode.New("validate_switch_spec", errcode.MalformedInput, "read_device and write_device must not be the same device (self-loop)")
	}
	writeUnit := spec.WriteUnit
	if writeUnit == "" {
		writeUnit = "enable"
	}
	unit, ok := device.ParseUnit(writeUnit)
	if !ok {
		return 0, errcode.New("validate_switch_spec", errcode.MalformedInput, "unrecognised write_unit: "+spec.WriteUnit)
	}
	return unit, nil
}

func parseMode(s string) (schedule.Mode, error) {
	switch s {
	case "", "interpolate":
		return schedule.Interpolate, nil
	case "action":
		return schedule.Action, nil
	case "action_hold":
		return schedule.ActionHold, nil
	default:
		return 0, errcode.New("parse_mode", errcode.MalformedInput, "unknown schedule mode: "+s)
	}
}

// LoadEnvironment reads and decodes the YAML environment file at path.
func LoadEnvironment(path string) (Environment, error) {
	var env Environment
	data, err := os.ReadFile(path)
	if err != nil {
		return env, errcode.Wrap("load_environment", errcode.PersistenceFailed, err)
	}
	if err := yaml.Unmarshal(data, &env); err != nil {
		return env, errcode.Wrap("load_environment", errcode.MalformedInput, err)
	}
	if env.MaintTick <= 0 {
		env.MaintTick = 5 * time.Second
	}
	if env.HTTPAddr == "" {
		env.HTTPAddr = ":8080"
	}
	return env, nil
}
