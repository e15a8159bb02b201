// Package device holds the data model shared by every driver, the event
// access array, and the REST boundary: a tagged-union numeric value with a
// unit, and the opaque per-slot configuration buffer that persists it.
package device

import (
	"encoding/json"
	"fmt"
)

// Unit is the tag half of the Value union. Unit none marks an invalid/unset
// value (spec §3): a Value carrying Unit==None never compares equal to, nor
// arithmetically combines with, anything.
type Unit uint8

const (
	None Unit = iota
	Temperature
	PH
	Humidity
	Voltage
	Ampere
	Watt
	TDS
	Analog
	PWM
	UnsignedIntegral
	Milligrams
	Milliliter
	Enable
	Percentage
	Seconds
)

// canonicalAlias is the first/emit-form alias for each unit (spec §6).
var canonicalAlias = map[Unit]string{
	Temperature:      "temperature",
	PH:               "ph",
	Humidity:         "humidity",
	Voltage:          "voltage",
	Ampere:           "ampere",
	Watt:             "watt",
	TDS:              "tds",
	Analog:           "analog",
	PWM:              "pwm",
	UnsignedIntegral: "generic_unsigned_integral",
	Milligrams:       "milligrams",
	Milliliter:       "milliliter",
	Enable:           "enable",
	Percentage:       "percentage",
	Seconds:          "seconds",
}

// aliases maps every accepted wire alias to its unit (spec §6's full alias
// list, first alias in each set is canonical per canonicalAlias above).
var aliases = map[string]Unit{
	"temperature": Temperature, "degc": Temperature, "celsius": Temperature, "c": Temperature,
	"ph": PH,
	"humidity": Humidity,
	"voltage": Voltage, "v": Voltage, "volt": Voltage,
	"ampere": Ampere, "a": Ampere, "amp": Ampere,
	"watt": Watt,
	"tds":  TDS,
	"analog": Analog, "generic_analog": Analog,
	"pwm": PWM, "generic_pwm": PWM,
	"milligrams": Milligrams, "mg": Milligrams,
	"milliliter": Milliliter, "ml": Milliliter,
	"enable": Enable, "bool": Enable, "switch": Enable,
	"percentage": Percentage, "%": Percentage,
	"seconds": Seconds, "s": Seconds, "sec": Seconds,
	"generic_unsigned_integral": UnsignedIntegral,
}

func (u Unit) String() string {
	if s, ok := canonicalAlias[u]; ok {
		return s
	}
	return "none"
}

// ParseUnit resolves any accepted wire alias to its Unit. ok is false for an
// unrecognised token.
func ParseUnit(s string) (Unit, bool) {
	u, ok := aliases[s]
	return u, ok
}

// Value is the tagged-union numeric value: exactly one of the typed fields
// is meaningful, selected by unit. Each unit maps to exactly one primitive
// type (spec §3):
//
//	float32: Temperature, PH, Humidity, Voltage, Ampere, Watt, Milliliter
//	uint16:  TDS, Analog, PWM, UnsignedIntegral
//	int16:   Milligrams
//	uint8:   Percentage
//	uint32:  Seconds
//	bool:    Enable
type Value struct {
	unit Unit
	f    float64
	i    int64
	b    bool
}

// Unit reports the tag of the value. None means invalid/unset.
func (v Value) Unit() Unit { return v.unit }

// IsValid reports whether the value carries a unit other than None.
func (v Value) IsValid() bool { return v.unit != None }

func fromFloat(u Unit, f float64) Value { return Value{unit: u, f: f} }
func fromInt(u Unit, i int64) Value     { return Value{unit: u, i: i} }
func fromBool(u Unit, b bool) Value     { return Value{unit: u, b: b} }

func Temp(v float32) Value       { return fromFloat(Temperature, float64(v)) }
func PHValue(v float32) Value    { return fromFloat(PH, float64(v)) }
func Hum(v float32) Value        { return fromFloat(Humidity, float64(v)) }
func Volt(v float32) Value       { return fromFloat(Voltage, float64(v)) }
func Amp(v float32) Value        { return fromFloat(Ampere, float64(v)) }
func WattVal(v float32) Value    { return fromFloat(Watt, float64(v)) }
func MilliL(v float32) Value     { return fromFloat(Milliliter, float64(v)) }
func TDSVal(v uint16) Value      { return fromInt(TDS, int64(v)) }
func AnalogVal(v uint16) Value   { return fromInt(Analog, int64(v)) }
func PWMVal(v uint16) Value      { return fromInt(PWM, int64(v)) }
func UIntVal(v uint16) Value     { return fromInt(UnsignedIntegral, int64(v)) }
func MilliG(v int16) Value       { return fromInt(Milligrams, int64(v)) }
func Pct(v uint8) Value          { return fromInt(Percentage, int64(v)) }
func SecVal(v uint32) Value      { return fromInt(Seconds, int64(v)) }
func EnableVal(v bool) Value     { return fromBool(Enable, v) }

// GetAs returns the stored value as T only when unit matches the stored
// unit and T is the primitive compatible with that unit (spec §3).
func GetAs[T float32 | float64 | uint16 | int16 | uint8 | uint32 | bool](v Value, unit Unit) (T, bool) {
	if v.unit != unit {
		var zero T
		return zero, false
	}
	isFloat := (unit >= Temperature && unit <= Watt) || unit == Milliliter
	var out any
	switch any(*new(T)).(type) {
	case bool:
		if unit == Enable {
			out = v.b
		}
	case float32:
		if isFloat {
			out = float32(v.f)
		}
	case float64:
		if isFloat {
			out = v.f
		}
	case uint16:
		if unit == TDS || unit == Analog || unit == PWM || unit == UnsignedIntegral {
			out = uint16(v.i)
		}
	case int16:
		if unit == Milligrams {
			out = int16(v.i)
		}
	case uint8:
		if unit == Percentage {
			out = uint8(v.i)
		}
	case uint32:
		if unit == Seconds {
			out = uint32(v.i)
		}
	default:
		var zero T
		return zero, false
	}
	t, ok := out.(T)
	return t, ok
}

// AsFloat64 is a convenience accessor used by components (switch controller,
// schedule engine) that need a uniform numeric view regardless of the
// underlying primitive, as long as the unit is one of the numeric kinds.
func (v Value) AsFloat64() (float64, bool) {
	switch v.unit {
	case None:
		return 0, false
	case Enable:
		if v.b {
			return 1, true
		}
		return 0, true
	case Temperature, PH, Humidity, Voltage, Ampere, Watt, Milliliter:
		return v.f, true
	default:
		return float64(v.i), true
	}
}

// Difference returns a-b as a float64, only when both values share the same
// unit (spec §3: "Arithmetic is defined only between values with identical
// units").
func Difference(a, b Value) (float64, bool) {
	if a.unit == None || a.unit != b.unit {
		return 0, false
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return af - bf, true
}

// Sum returns a+b as a float64, only when both values share the same unit.
func Sum(a, b Value) (float64, bool) {
	if a.unit == None || a.unit != b.unit {
		return 0, false
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return af + bf, true
}

// CreateFromUnit builds a Value for unit from a generic numeric/bool input,
// converting as needed (mirrors DeviceValues::create_from_unit).
func CreateFromUnit(unit Unit, raw float64) Value {
	switch unit {
	case Temperature:
		return Temp(float32(raw))
	case PH:
		return PHValue(float32(raw))
	case Humidity:
		return Hum(float32(raw))
	case Voltage:
		return Volt(float32(raw))
	case Ampere:
		return Amp(float32(raw))
	case Watt:
		return WattVal(float32(raw))
	case Milliliter:
		return MilliL(float32(raw))
	case TDS:
		return TDSVal(uint16(raw))
	case Analog:
		return AnalogVal(uint16(raw))
	case PWM:
		return PWMVal(uint16(raw))
	case UnsignedIntegral:
		return UIntVal(uint16(raw))
	case Milligrams:
		return MilliG(int16(raw))
	case Percentage:
		return Pct(uint8(raw))
	case Seconds:
		return SecVal(uint32(raw))
	case Enable:
		return EnableVal(raw != 0)
	default:
		return Value{}
	}
}

// MarshalJSON emits {"<canonical-alias>": value}, or {} for an invalid value.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.unit == None {
		return []byte("{}"), nil
	}
	key := canonicalAlias[v.unit]
	var payload any
	switch v.unit {
	case Enable:
		payload = v.b
	case Temperature, PH, Humidity, Voltage, Ampere, Watt, Milliliter:
		payload = v.f
	default:
		payload = v.i
	}
	return json.Marshal(map[string]any{key: payload})
}

// UnmarshalJSON accepts {"<any-alias>": value} for exactly one recognised
// key; unrecognised or empty objects unmarshal to an invalid (None) value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("device: invalid value payload: %w", err)
	}
	for k, msg := range raw {
		unit, ok := ParseUnit(k)
		if !ok {
			continue
		}
		switch unit {
		case Enable:
			var b bool
			if err := json.Unmarshal(msg, &b); err == nil {
				*v = EnableVal(b)
				return nil
			}
			var num json.Number
			if err := json.Unmarshal(msg, &num); err != nil {
				return fmt.Errorf("device: invalid enable value: %w", err)
			}
			f, _ := num.Float64()
			*v = EnableVal(f != 0)
		default:
			var num json.Number
			if err := json.Unmarshal(msg, &num); err != nil {
				return fmt.Errorf("device: invalid numeric value for %q: %w", k, err)
			}
			f, err := num.Float64()
			if err != nil {
				return fmt.Errorf("device: invalid numeric value for %q: %w", k, err)
			}
			*v = CreateFromUnit(unit, f)
		}
		return nil
	}
	*v = Value{}
	return nil
}
