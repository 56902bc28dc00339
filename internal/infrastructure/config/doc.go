// Package config loads and validates BLE Scanner Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by BLESCAN_* environment variables (useful for
// secrets like broker credentials that should not live in the file).
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//
// See configs/config.yaml for a documented example of every section.
package config
