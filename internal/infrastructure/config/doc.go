// Package config handles loading and validating gridd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRIDD_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The supervisor, detector and device workers all read the same file, so
// the binaries a supervisor launches inherit its settings through the
// GRIDD_CONFIG environment variable.
//
// Usage:
//
//	cfg, err := config.Load("/etc/gridd/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ControlAddr())
package config
