package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when telemetry is switched off in
	// config. Callers treat it as "no telemetry", not a failure.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the server did not answer the startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)
