// Package config loads dago-probe settings from PROBE_* environment variables.
//
// Every value has a default suitable for running the UI and the simulated
// backend on one machine:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("UI will listen on %s\n", cfg.GetHTTPAddr())
package config
