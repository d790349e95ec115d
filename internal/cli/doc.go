// Package cli implements the command-line interface for meteo-history.
//
// The cli package provides the Cobra-based CLI with commands to list stations, show the
// directory status, refresh the directory, and query daily observations, with text, JSON
// and CSV output. Settings come from the config package; flags override the config file
// and the environment. A run exits with 2 when the result is usable but some stations or
// months were skipped.
package cli
