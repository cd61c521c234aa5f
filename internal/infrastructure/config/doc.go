// Package config handles loading and validating the Proflame bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading optional .env files
//   - Overriding with PROFLAME_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Sensitive values (MQTT password, InfluxDB token) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.Host)
package config
