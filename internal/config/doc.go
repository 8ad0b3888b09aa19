// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Variables may also come from a .env file next to the config file or in the
// working directory; variables already set in the process environment win.
package config
