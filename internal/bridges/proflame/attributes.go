package proflame

import (
	"fmt"
	"strings"
)

// DefaultPort is the TCP port the fireplace controller listens on.
const DefaultPort = 88

// Attribute is a key in the controller's flat attribute vector.
type Attribute string

// Attribute catalog reported by the controller.
const (
	AttrAuxiliary          Attribute = "auxiliary_out"
	AttrBurnerStatus       Attribute = "burner_status"
	AttrCurrentTemperature Attribute = "room_temperature"
	AttrFanSpeed           Attribute = "fan_control"
	AttrFirmwareRevision   Attribute = "fw_revision"
	AttrFlameHeight        Attribute = "flame_control"
	AttrFreeHeap           Attribute = "free_heap"
	AttrLightBrightness    Attribute = "lamp_control"
	AttrMinFreeHeap        Attribute = "min_free_heap"
	AttrOperatingMode      Attribute = "main_mode"
	AttrPilotMode          Attribute = "pilot_mode"
	AttrRemoteControl      Attribute = "remote_control"
	AttrSplitFlow          Attribute = "split_flow"
	AttrTargetTemperature  Attribute = "temperature_set"
	AttrTemperatureUnit    Attribute = "temperature_unit"
	AttrWifiSignalStrength Attribute = "wifi_signal_str"
)

var catalog = map[Attribute]struct{}{
	AttrAuxiliary:          {},
	AttrBurnerStatus:       {},
	AttrCurrentTemperature: {},
	AttrFanSpeed:           {},
	AttrFirmwareRevision:   {},
	AttrFlameHeight:        {},
	AttrFreeHeap:           {},
	AttrLightBrightness:    {},
	AttrMinFreeHeap:        {},
	AttrOperatingMode:      {},
	AttrPilotMode:          {},
	AttrRemoteControl:      {},
	AttrSplitFlow:          {},
	AttrTargetTemperature:  {},
	AttrTemperatureUnit:    {},
	AttrWifiSignalStrength: {},
}

// Known reports whether a is part of the attribute catalog.
func (a Attribute) Known() bool {
	_, ok := catalog[a]
	return ok
}

// ParseAttribute validates a raw key against the catalog.
func ParseAttribute(s string) (Attribute, error) {
	a := Attribute(s)
	if !a.Known() {
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, s)
	}
	return a, nil
}

// Attributes returns the full catalog in a stable order.
func Attributes() []Attribute {
	return []Attribute{
		AttrAuxiliary,
		AttrBurnerStatus,
		AttrCurrentTemperature,
		AttrFanSpeed,
		AttrFirmwareRevision,
		AttrFlameHeight,
		AttrFreeHeap,
		AttrLightBrightness,
		AttrMinFreeHeap,
		AttrOperatingMode,
		AttrPilotMode,
		AttrRemoteControl,
		AttrSplitFlow,
		AttrTargetTemperature,
		AttrTemperatureUnit,
		AttrWifiSignalStrength,
	}
}

// OperatingMode is the controller's main_mode value.
type OperatingMode int

// Operating modes.
const (
	ModeOff        OperatingMode = 0
	ModeManual     OperatingMode = 1
	ModeThermostat OperatingMode = 2
	ModeSmart      OperatingMode = 3
)

// Adjustable reports whether the flame height can be changed in this mode.
func (m OperatingMode) Adjustable() bool {
	return m == ModeManual || m == ModeThermostat
}

func (m OperatingMode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeManual:
		return "manual"
	case ModeThermostat:
		return "thermostat"
	case ModeSmart:
		return "smart"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// PilotMode is the controller's pilot_mode value.
type PilotMode int

// Pilot modes.
const (
	PilotIntermittent PilotMode = 0
	PilotContinuous   PilotMode = 1
)

func (p PilotMode) String() string {
	switch p {
	case PilotIntermittent:
		return "intermittent"
	case PilotContinuous:
		return "continuous"
	default:
		return fmt.Sprintf("pilot(%d)", int(p))
	}
}

// ParsePilotMode accepts "intermittent" or "continuous", case-insensitively.
func ParsePilotMode(s string) (PilotMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intermittent", "intermitent":
		return PilotIntermittent, nil
	case "continuous":
		return PilotContinuous, nil
	default:
		return 0, fmt.Errorf("%w: pilot mode %q", ErrInvalidParameter, s)
	}
}

// Preset is the user-facing summary of mode and flame.
type Preset string

// Presets.
const (
	PresetOff        Preset = "off"
	PresetManual     Preset = "manual"
	PresetThermostat Preset = "thermostat"
	PresetSmart      Preset = "smart"
)

// ParsePreset accepts a preset name, case-insensitively.
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PresetOff, PresetManual, PresetThermostat, PresetSmart:
		return p, nil
	default:
		return "", fmt.Errorf("%w: preset %q", ErrInvalidParameter, s)
	}
}

// HVACMode is the climate view of the preset.
type HVACMode string

// HVAC modes.
const (
	HVACModeOff  HVACMode = "off"
	HVACModeHeat HVACMode = "heat"
)

// HVACAction is what the appliance is doing right now.
type HVACAction string

// HVAC actions.
const (
	HVACActionOff     HVACAction = "off"
	HVACActionHeating HVACAction = "heating"
)

// TemperatureUnit is the unit the controller displays and accepts.
type TemperatureUnit string

// Temperature units.
const (
	UnitCelsius    TemperatureUnit = "celsius"
	UnitFahrenheit TemperatureUnit = "fahrenheit"
)

// Control ranges.
const (
	MinFanSpeed        = 0
	MaxFanSpeed        = 6
	MinFlameHeight     = 0
	MaxFlameHeight     = 6
	MinLightBrightness = 0
	MaxLightBrightness = 6
)

// Target temperature bounds.
var (
	MinTemperature = Celsius(5)
	MaxTemperature = Celsius(35)
)

// Constrain clamps value to [lo, hi].
func Constrain(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Temperature is stored in Celsius and converted on demand.
type Temperature struct {
	celsius float64
}

// Celsius creates a Temperature from degrees Celsius.
func Celsius(v float64) Temperature {
	return Temperature{celsius: v}
}

// Fahrenheit creates a Temperature from degrees Fahrenheit.
func Fahrenheit(v float64) Temperature {
	return Temperature{celsius: (v - 32) * 5 / 9}
}

// Celsius returns the value in degrees Celsius.
func (t Temperature) Celsius() float64 {
	return t.celsius
}

// Fahrenheit returns the value in degrees Fahrenheit.
func (t Temperature) Fahrenheit() float64 {
	return t.celsius*9/5 + 32
}

// In returns the value in the given unit.
func (t Temperature) In(unit TemperatureUnit) float64 {
	if unit == UnitFahrenheit {
		return t.Fahrenheit()
	}
	return t.Celsius()
}

// NewTemperature creates a Temperature from a value in the given unit.
func NewTemperature(v float64, unit TemperatureUnit) Temperature {
	if unit == UnitFahrenheit {
		return Fahrenheit(v)
	}
	return Celsius(v)
}

// ParseTemperatureUnit accepts "c", "celsius", "f" or "fahrenheit".
func ParseTemperatureUnit(s string) (TemperatureUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "celsius":
		return UnitCelsius, nil
	case "f", "fahrenheit":
		return UnitFahrenheit, nil
	default:
		return "", fmt.Errorf("%w: temperature unit %q", ErrInvalidParameter, s)
	}
}

// ParseOperatingMode accepts a mode name, case-insensitively.
func ParseOperatingMode(s string) (OperatingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return ModeOff, nil
	case "manual":
		return ModeManual, nil
	case "thermostat":
		return ModeThermostat, nil
	case "smart":
		return ModeSmart, nil
	default:
		return 0, fmt.Errorf("%w: operating mode %q", ErrInvalidParameter, s)
	}
}

// ParseHVACMode accepts "off" or "heat".
func ParseHVACMode(s string) (HVACMode, error) {
	switch m := HVACMode(strings.ToLower(strings.TrimSpace(s))); m {
	case HVACModeOff, HVACModeHeat:
		return m, nil
	default:
		return "", fmt.Errorf("%w: hvac mode %q", ErrInvalidParameter, s)
	}
}
