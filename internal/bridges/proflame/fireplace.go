package proflame

import (
	"errors"
	"math"
	"sync"
)

// lightLevelStep converts the 0-6 brightness scale to 0-255.
const lightLevelStep = 255 / MaxLightBrightness

// Fireplace turns the raw attribute vector into fireplace concepts: presets,
// on/off with remembered settings, and unit-aware temperatures.
//
// It only talks to the connection through StateClient, so every action is a
// queued write and every property reads the last reported state.
//
// Remembered values:
//   - fan, flame and light levels are remembered whenever the controller
//     reports a non-zero value, and restored by the matching "on" action
//   - the operating mode is remembered unless it is manual with the flame
//     at 0 (the controller's way of saying off)
//   - the adjustable mode (manual or thermostat) is remembered separately
//     and restored when the flame is raised from a non-adjustable mode
type Fireplace struct {
	client StateClient

	mu               sync.Mutex
	storedFan        int
	storedFlame      int
	storedLight      int
	storedMode       OperatingMode
	storedAdjustable OperatingMode
}

// NewFireplace wraps client and starts tracking remembered values.
func NewFireplace(client StateClient) *Fireplace {
	f := &Fireplace{
		client:           client,
		storedFan:        MaxFanSpeed,
		storedFlame:      MaxFlameHeight,
		storedLight:      MaxLightBrightness,
		storedMode:       ModeManual,
		storedAdjustable: ModeManual,
	}
	client.Subscribe(f.track)
	return f
}

func (f *Fireplace) track(attr Attribute, value int) {
	if value <= 0 {
		return
	}

	// Read the flame before taking the lock; GetState may block on the store.
	var flameZero, flameNonZero bool
	if attr == AttrOperatingMode {
		h, ok := f.flameHeight()
		flameZero = ok && h == 0
		flameNonZero = !ok || h != 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch attr {
	case AttrFanSpeed:
		f.storedFan = value
	case AttrFlameHeight:
		f.storedFlame = value
	case AttrLightBrightness:
		f.storedLight = value
	case AttrOperatingMode:
		mode := OperatingMode(value)
		if !(mode == ModeManual && flameZero) {
			f.storedMode = mode
		}
		if mode.Adjustable() && flameNonZero {
			f.storedAdjustable = mode
		}
	}
}

// Remembered returns the values restored by Heat, TurnOn, FanOn and LightOn.
func (f *Fireplace) Remembered() (fan, flame, light int, mode, adjustable OperatingMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.storedFan, f.storedFlame, f.storedLight, f.storedMode, f.storedAdjustable
}

// OperatingMode returns the reported main mode.
func (f *Fireplace) OperatingMode() (OperatingMode, bool) {
	v, ok := f.client.GetState(AttrOperatingMode)
	return OperatingMode(v), ok
}

// PilotMode returns the reported pilot mode.
func (f *Fireplace) PilotMode() (PilotMode, bool) {
	v, ok := f.client.GetState(AttrPilotMode)
	return PilotMode(v), ok
}

// IsOn reports whether the main mode is anything but off.
func (f *Fireplace) IsOn() (on, known bool) {
	mode, ok := f.OperatingMode()
	if !ok {
		return false, false
	}
	return mode != ModeOff, true
}

func (f *Fireplace) modeIsOff() bool {
	mode, ok := f.OperatingMode()
	return !ok || mode == ModeOff
}

// FanSpeed returns the fan level, 0 while the fireplace is off.
func (f *Fireplace) FanSpeed() int {
	if f.modeIsOff() {
		return 0
	}
	v, _ := f.client.GetState(AttrFanSpeed)
	return v
}

// flameHeight is FlameHeight that also reports whether the value is known.
// It is known and 0 while the fireplace is off.
func (f *Fireplace) flameHeight() (int, bool) {
	if f.modeIsOff() {
		return 0, true
	}
	return f.client.GetState(AttrFlameHeight)
}

// FlameHeight returns the flame level, 0 while the fireplace is off.
func (f *Fireplace) FlameHeight() int {
	v, _ := f.flameHeight()
	return v
}

// LightBrightness returns the light level, 0 while the fireplace is off.
func (f *Fireplace) LightBrightness() int {
	if f.modeIsOff() {
		return 0
	}
	v, _ := f.client.GetState(AttrLightBrightness)
	return v
}

// FanPercentage returns the fan level on a 0-100 scale.
func (f *Fireplace) FanPercentage() int {
	return f.FanSpeed() * 100 / MaxFanSpeed
}

// LightLevel returns the light level on a 0-255 scale.
func (f *Fireplace) LightLevel() int {
	return f.LightBrightness() * lightLevelStep
}

// Preset summarises mode and flame. Manual with the flame at 0 is off.
func (f *Fireplace) Preset() (Preset, bool) {
	mode, ok := f.OperatingMode()
	if !ok {
		return "", false
	}
	switch mode {
	case ModeOff:
		return PresetOff, true
	case ModeManual:
		if h, known := f.flameHeight(); known && h == 0 {
			return PresetOff, true
		}
		return PresetManual, true
	case ModeThermostat:
		return PresetThermostat, true
	case ModeSmart:
		return PresetSmart, true
	default:
		return "", false
	}
}

func (f *Fireplace) presetIsOff() bool {
	p, ok := f.Preset()
	return ok && p == PresetOff
}

// HVACMode returns off for the off preset and heat otherwise.
func (f *Fireplace) HVACMode() HVACMode {
	if f.presetIsOff() {
		return HVACModeOff
	}
	return HVACModeHeat
}

// HVACAction returns off for the off preset and heating otherwise.
func (f *Fireplace) HVACAction() HVACAction {
	if f.presetIsOff() {
		return HVACActionOff
	}
	return HVACActionHeating
}

// TemperatureUnit returns the controller's display unit.
func (f *Fireplace) TemperatureUnit() TemperatureUnit {
	if v, _ := f.client.GetState(AttrTemperatureUnit); v != 0 {
		return UnitFahrenheit
	}
	return UnitCelsius
}

// CurrentTemperature returns the room temperature in the controller's unit.
// A reading of 0 is treated as no reading.
func (f *Fireplace) CurrentTemperature() (float64, bool) {
	v, ok := f.client.GetState(AttrCurrentTemperature)
	if !ok || v == 0 {
		return 0, false
	}
	return float64(v) / 10, true
}

// TargetTemperature returns the setpoint in the controller's unit. It is
// unknown in the off and manual presets, which ignore it.
func (f *Fireplace) TargetTemperature() (float64, bool) {
	if p, ok := f.Preset(); ok && (p == PresetOff || p == PresetManual) {
		return 0, false
	}
	v, ok := f.client.GetState(AttrTargetTemperature)
	if !ok || v == 0 {
		return 0, false
	}
	return float64(v) / 10, true
}

// MinTargetTemperature returns the lowest setpoint in the controller's unit.
func (f *Fireplace) MinTargetTemperature() float64 {
	return MinTemperature.In(f.TemperatureUnit())
}

// MaxTargetTemperature returns the highest setpoint in the controller's unit.
func (f *Fireplace) MaxTargetTemperature() float64 {
	return MaxTemperature.In(f.TemperatureUnit())
}

// Heat restores the remembered mode and flame, but only from the off preset.
func (f *Fireplace) Heat() error {
	if !f.presetIsOff() {
		return nil
	}
	_, flame, _, mode, _ := f.Remembered()
	return errors.Join(
		f.SetOperatingMode(mode),
		f.SetFlameHeight(flame),
	)
}

// SetFanSpeed writes the fan level, clamped to 0-6.
func (f *Fireplace) SetFanSpeed(speed int) error {
	return f.client.SetState(AttrFanSpeed, Constrain(speed, MinFanSpeed, MaxFanSpeed))
}

// SetFanPercentage writes the fan level from a 0-100 scale, rounding up.
func (f *Fireplace) SetFanPercentage(pct int) error {
	speed := int(math.Ceil(float64(pct) / (100.0 / MaxFanSpeed)))
	return f.SetFanSpeed(speed)
}

// SetFlameHeight writes the flame level, clamped to 0-6. Raising the flame
// from a mode that ignores it switches to the remembered adjustable mode.
func (f *Fireplace) SetFlameHeight(height int) error {
	height = Constrain(height, MinFlameHeight, MaxFlameHeight)
	if err := f.client.SetState(AttrFlameHeight, height); err != nil {
		return err
	}
	if height == 0 {
		return nil
	}
	if mode, ok := f.OperatingMode(); ok && mode.Adjustable() {
		return nil
	}
	_, _, _, _, adjustable := f.Remembered()
	return f.SetOperatingMode(adjustable)
}

// SetLightBrightness writes the light level, clamped to 0-6.
func (f *Fireplace) SetLightBrightness(brightness int) error {
	return f.client.SetState(AttrLightBrightness, Constrain(brightness, MinLightBrightness, MaxLightBrightness))
}

// SetLightLevel writes the light level from a 0-255 scale, rounding up.
func (f *Fireplace) SetLightLevel(level int) error {
	brightness := int(math.Ceil(float64(level) / (255.0 / MaxLightBrightness)))
	return f.SetLightBrightness(brightness)
}

// SetOperatingMode writes the main mode.
func (f *Fireplace) SetOperatingMode(mode OperatingMode) error {
	return f.client.SetState(AttrOperatingMode, int(mode))
}

// SetPilotMode writes the pilot mode.
func (f *Fireplace) SetPilotMode(mode PilotMode) error {
	return f.client.SetState(AttrPilotMode, int(mode))
}

// SetPreset drives mode and flame to match p.
//
//   - off: flame to 0, then manual (skipped if already off)
//   - manual: restore the remembered flame if it is 0, then manual
//   - thermostat, smart: set the mode
func (f *Fireplace) SetPreset(p Preset) error {
	switch p {
	case PresetOff:
		if mode, ok := f.OperatingMode(); ok && mode == ModeOff {
			return nil
		}
		return errors.Join(
			f.SetFlameHeight(0),
			f.SetOperatingMode(ModeManual),
		)
	case PresetManual:
		var err error
		if h, ok := f.flameHeight(); ok && h == 0 {
			_, flame, _, _, _ := f.Remembered()
			err = f.SetFlameHeight(flame)
		}
		return errors.Join(err, f.SetOperatingMode(ModeManual))
	case PresetThermostat:
		return f.SetOperatingMode(ModeThermostat)
	case PresetSmart:
		return f.SetOperatingMode(ModeSmart)
	default:
		return ErrInvalidParameter
	}
}

// SetHVACMode maps off to the off preset and heat to Heat.
func (f *Fireplace) SetHVACMode(mode HVACMode) error {
	switch mode {
	case HVACModeOff:
		return f.SetPreset(PresetOff)
	case HVACModeHeat:
		return f.Heat()
	default:
		return ErrInvalidParameter
	}
}

// SetTargetTemperature writes the setpoint, clamped to the supported range
// and converted to the controller's unit in tenths of a degree.
func (f *Fireplace) SetTargetTemperature(t Temperature) error {
	c := math.Max(MinTemperature.Celsius(), math.Min(MaxTemperature.Celsius(), t.Celsius()))
	value := Celsius(c).In(f.TemperatureUnit())
	return f.client.SetState(AttrTargetTemperature, int(value*10))
}

// TurnOn restores the remembered mode.
func (f *Fireplace) TurnOn() error {
	_, _, _, mode, _ := f.Remembered()
	return f.SetOperatingMode(mode)
}

// TurnOff sets the main mode to off.
func (f *Fireplace) TurnOff() error {
	return f.SetOperatingMode(ModeOff)
}

// FanOn restores the remembered fan level.
func (f *Fireplace) FanOn() error {
	fan, _, _, _, _ := f.Remembered()
	return f.SetFanSpeed(fan)
}

// FanOff sets the fan level to 0.
func (f *Fireplace) FanOff() error {
	return f.SetFanSpeed(0)
}

// LightOn restores the remembered light level.
func (f *Fireplace) LightOn() error {
	_, _, light, _, _ := f.Remembered()
	return f.SetLightBrightness(light)
}

// LightOff sets the light level to 0.
func (f *Fireplace) LightOff() error {
	return f.SetLightBrightness(0)
}

// Status is a JSON-ready view of every derived property. Unknown values are
// null.
type Status struct {
	Preset             *Preset         `json:"preset"`
	HVACMode           HVACMode        `json:"hvac_mode"`
	HVACAction         HVACAction      `json:"hvac_action"`
	IsOn               *bool           `json:"is_on"`
	OperatingMode      *string         `json:"operating_mode"`
	PilotMode          *string         `json:"pilot_mode"`
	FlameHeight        int             `json:"flame_height"`
	FanSpeed           int             `json:"fan_speed"`
	FanPercentage      int             `json:"fan_percentage"`
	LightBrightness    int             `json:"light_brightness"`
	LightLevel         int             `json:"light_level"`
	TemperatureUnit    TemperatureUnit `json:"temperature_unit"`
	CurrentTemperature *float64        `json:"current_temperature"`
	TargetTemperature  *float64        `json:"target_temperature"`
	MinTemperature     float64         `json:"min_temperature"`
	MaxTemperature     float64         `json:"max_temperature"`
	FreeHeap           *int            `json:"free_heap"`
	MinFreeHeap        *int            `json:"min_free_heap"`
	WifiSignalStrength *int            `json:"wifi_signal_strength"`
	FirmwareRevision   *int            `json:"firmware_revision"`
}

// Status collects every property into one value.
func (f *Fireplace) Status() Status {
	s := Status{
		HVACMode:        f.HVACMode(),
		HVACAction:      f.HVACAction(),
		FlameHeight:     f.FlameHeight(),
		FanSpeed:        f.FanSpeed(),
		FanPercentage:   f.FanPercentage(),
		LightBrightness: f.LightBrightness(),
		LightLevel:      f.LightLevel(),
		TemperatureUnit: f.TemperatureUnit(),
		MinTemperature:  f.MinTargetTemperature(),
		MaxTemperature:  f.MaxTargetTemperature(),
	}

	if p, ok := f.Preset(); ok {
		s.Preset = &p
	}
	if on, ok := f.IsOn(); ok {
		s.IsOn = &on
	}
	if m, ok := f.OperatingMode(); ok {
		name := m.String()
		s.OperatingMode = &name
	}
	if p, ok := f.PilotMode(); ok {
		name := p.String()
		s.PilotMode = &name
	}
	if t, ok := f.CurrentTemperature(); ok {
		s.CurrentTemperature = &t
	}
	if t, ok := f.TargetTemperature(); ok {
		s.TargetTemperature = &t
	}
	s.FreeHeap = f.optional(AttrFreeHeap)
	s.MinFreeHeap = f.optional(AttrMinFreeHeap)
	s.WifiSignalStrength = f.optional(AttrWifiSignalStrength)
	s.FirmwareRevision = f.optional(AttrFirmwareRevision)

	return s
}

func (f *Fireplace) optional(attr Attribute) *int {
	if v, ok := f.client.GetState(attr); ok {
		return &v
	}
	return nil
}
