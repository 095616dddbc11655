// Package config loads the exporter configuration.
//
// Values are layered, later sources winning:
//
//  1. Default()
//  2. configuration files added with Loader.AddLayer (.json, .yaml or .yml)
//  3. a .env file, which never replaces variables already in the environment
//  4. environment variables
//
// The environment names are the ones Assemblyline deployments already use
// for the Python client (ASSEMBLYLINE_HOST, ASSEMBLYLINE_USERNAME,
// ASSEMBLYLINE_APIKEY) plus EXPORTER_* settings for the exporter itself.
//
//	loader := config.NewLoader()
//	loader.AddLayer("exporter.yaml")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//	    return err // fatal: missing or invalid configuration
//	}
//
// Validation and load failures are fatal-class errors wrapping
// errors.ErrMissingConfig or errors.ErrInvalidConfig.
package config
