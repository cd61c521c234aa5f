package proflame

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Control frames. These are plain text, never JSON.
const (
	ControlHandshake    = "PROFLAMECONNECTION"
	ControlHandshakeAck = "PROFLAMECONNECTIONOPEN"
	ControlPing         = "PROFLAMEPING"
	ControlPong         = "PROFLAMEPONG"
)

// FrameKind classifies an inbound frame.
type FrameKind int

// Frame kinds.
const (
	FrameControl FrameKind = iota
	FrameDelta
)

// Change is one attribute update inside a delta frame.
type Change struct {
	Attribute Attribute `json:"attribute"`
	Value     int       `json:"value"`
}

// Frame is a decoded inbound frame. Control is set for control frames,
// Changes for deltas, in payload order.
type Frame struct {
	Kind    FrameKind
	Control string
	Changes []Change
}

// DecodeFrame classifies and parses one inbound text frame.
//
// Anything that is not valid JSON is a control frame. Valid JSON must be an
// object whose every value is an integer; otherwise the whole frame is
// rejected with ErrNotAnObject or ErrInvalidValue and no changes are returned.
// A key repeated within one frame yields a single change carrying its last
// value, at the position the key first appeared.
func DecodeFrame(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return Frame{Kind: FrameControl, Control: string(data)}, nil
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Frame{}, fmt.Errorf("%w: got %s", ErrNotAnObject, root.Type)
	}

	var (
		changes []Change
		seen    map[Attribute]int
		bad     error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		v, err := integerValue(value)
		if err != nil {
			bad = fmt.Errorf("%w: %s=%s", err, key.String(), value.Raw)
			return false
		}
		attr := Attribute(key.String())
		if i, dup := seen[attr]; dup {
			changes[i].Value = v
			return true
		}
		if seen == nil {
			seen = make(map[Attribute]int)
		}
		seen[attr] = len(changes)
		changes = append(changes, Change{Attribute: attr, Value: v})
		return true
	})
	if bad != nil {
		return Frame{}, bad
	}

	return Frame{Kind: FrameDelta, Changes: changes}, nil
}

// integerValue accepts JSON numbers written without fraction or exponent
// that fit in an int64.
func integerValue(r gjson.Result) (int, error) {
	if r.Type != gjson.Number {
		return 0, ErrInvalidValue
	}
	n, err := strconv.ParseInt(r.Raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidValue
	}
	return int(n), nil
}

// EncodeWrite builds the single-key write frame {"attr": value}.
func EncodeWrite(attr Attribute, value int) ([]byte, error) {
	frame, err := sjson.SetBytes([]byte(`{}`), escapePath(string(attr)), value)
	if err != nil {
		return nil, fmt.Errorf("encoding %s write: %w", attr, err)
	}
	return frame, nil
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`,
	`.`, `\.`,
	`*`, `\*`,
	`?`, `\?`,
)

// escapePath makes a raw key safe to use as an sjson path.
func escapePath(key string) string {
	return pathEscaper.Replace(key)
}
