// Package config handles loading and validating smart garden gateway
// configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SMARTGARDEN_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Gateway.ID)
package config
