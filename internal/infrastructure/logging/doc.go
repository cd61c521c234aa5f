// Package logging builds the bridge's log/slog logger from the logging
// section of the config:
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json or text
//	  output: stdout   # stdout or stderr
//
// Entries carry "service" and "version". Components add their own name:
//
//	log := logging.New(cfg.Logging, version).With("component", "mqtt")
//	log.Info("connected", "broker", url)
//
// Attributes whose key contains password, token or secret are written as
// "[redacted]".
package logging
