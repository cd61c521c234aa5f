package proflame

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Command names accepted by Execute.
const (
	CmdSet                = "set"
	CmdTurnOn             = "turn_on"
	CmdTurnOff            = "turn_off"
	CmdHeat               = "heat"
	CmdSetPreset          = "set_preset"
	CmdSetHVACMode        = "set_hvac_mode"
	CmdSetOperatingMode   = "set_operating_mode"
	CmdSetFlameHeight     = "set_flame_height"
	CmdSetFanSpeed        = "set_fan_speed"
	CmdSetFanPercentage   = "set_fan_percentage"
	CmdFanOn              = "fan_on"
	CmdFanOff             = "fan_off"
	CmdSetLightBrightness = "set_light_brightness"
	CmdSetLightLevel      = "set_light_level"
	CmdLightOn            = "light_on"
	CmdLightOff           = "light_off"
	CmdSetPilotMode       = "set_pilot_mode"
	CmdSetTemperature     = "set_temperature"
)

// Action is a named fireplace command with loosely typed parameters, as
// decoded from MQTT or HTTP JSON bodies.
type Action struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Commands returns every command name Execute understands.
func Commands() []string {
	return []string{
		CmdSet, CmdTurnOn, CmdTurnOff, CmdHeat, CmdSetPreset, CmdSetHVACMode,
		CmdSetOperatingMode, CmdSetFlameHeight, CmdSetFanSpeed, CmdSetFanPercentage,
		CmdFanOn, CmdFanOff, CmdSetLightBrightness, CmdSetLightLevel, CmdLightOn,
		CmdLightOff, CmdSetPilotMode, CmdSetTemperature,
	}
}

// Execute validates a and performs it. Writes are queued on the client, so a
// nil error means the command was accepted, not that the fireplace applied it.
func (f *Fireplace) Execute(a Action) error {
	p := params(a.Parameters)

	switch a.Command {
	case CmdSet:
		name, err := p.str("attribute")
		if err != nil {
			return err
		}
		attr, err := ParseAttribute(name)
		if err != nil {
			return err
		}
		v, err := p.integer("value")
		if err != nil {
			return err
		}
		return f.client.SetState(attr, v)

	case CmdTurnOn:
		return f.TurnOn()
	case CmdTurnOff:
		return f.TurnOff()
	case CmdHeat:
		return f.Heat()
	case CmdFanOn:
		return f.FanOn()
	case CmdFanOff:
		return f.FanOff()
	case CmdLightOn:
		return f.LightOn()
	case CmdLightOff:
		return f.LightOff()

	case CmdSetPreset:
		s, err := p.str("preset")
		if err != nil {
			return err
		}
		preset, err := ParsePreset(s)
		if err != nil {
			return err
		}
		return f.SetPreset(preset)

	case CmdSetHVACMode:
		s, err := p.str("mode")
		if err != nil {
			return err
		}
		mode, err := ParseHVACMode(s)
		if err != nil {
			return err
		}
		return f.SetHVACMode(mode)

	case CmdSetOperatingMode:
		s, err := p.str("mode")
		if err != nil {
			return err
		}
		mode, err := ParseOperatingMode(s)
		if err != nil {
			return err
		}
		return f.SetOperatingMode(mode)

	case CmdSetPilotMode:
		s, err := p.str("mode")
		if err != nil {
			return err
		}
		mode, err := ParsePilotMode(s)
		if err != nil {
			return err
		}
		return f.SetPilotMode(mode)

	case CmdSetFlameHeight:
		return p.withInt("height", f.SetFlameHeight)
	case CmdSetFanSpeed:
		return p.withInt("speed", f.SetFanSpeed)
	case CmdSetFanPercentage:
		return p.withInt("percentage", f.SetFanPercentage)
	case CmdSetLightBrightness:
		return p.withInt("brightness", f.SetLightBrightness)
	case CmdSetLightLevel:
		return p.withInt("level", f.SetLightLevel)

	case CmdSetTemperature:
		v, err := p.number("temperature")
		if err != nil {
			return err
		}
		unit := f.TemperatureUnit()
		if _, ok := p["unit"]; ok {
			s, err := p.str("unit")
			if err != nil {
				return err
			}
			if unit, err = ParseTemperatureUnit(s); err != nil {
				return err
			}
		}
		return f.SetTargetTemperature(NewTemperature(v, unit))

	case "":
		return fmt.Errorf("%w: command is required", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, a.Command)
	}
}

type params map[string]any

func (p params) withInt(key string, fn func(int) error) error {
	v, err := p.integer(key)
	if err != nil {
		return err
	}
	return fn(v)
}

func (p params) str(key string) (string, error) {
	raw, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %q", ErrInvalidParameter, key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q must be a string", ErrInvalidParameter, key)
	}
	return s, nil
}

func (p params) number(key string) (float64, error) {
	raw, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %q", ErrInvalidParameter, key)
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidParameter, key, err)
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameter, key)
		}
		v = f
	default:
		return 0, fmt.Errorf("%w: %q must be a number", ErrInvalidParameter, key)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q must be finite", ErrInvalidParameter, key)
	}
	return v, nil
}

// integer accepts whole numbers only; JSON decoding yields float64, so 3.0
// is fine and 3.5 is not.
func (p params) integer(key string) (int, error) {
	v, err := p.number(key)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("%w: %q must be an integer", ErrInvalidParameter, key)
	}
	return int(v), nil
}
