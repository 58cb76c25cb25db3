// Package config handles loading and validating Free Sleep Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The pod host is the single required input: everything else has a working
// default. Reconciliation timing (poll cadence, command retries, failure
// backoff) is deliberately configuration rather than constants, because the
// pod firmware documents no timing guarantees.
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - The JWT secret must be set before the API will start
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Pod.Host)
package config
