// Package config loads meteo-history settings.
//
// Values are resolved with viper in increasing priority: built-in defaults, an optional
// YAML config file, METEO_HISTORY_* environment variables, and command-line flags bound
// by the cli package.
package config
