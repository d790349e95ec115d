// Package storage provides JSON-based persistence for the station directory.
//
// The directory is stored as a single indented JSON file. Saves write a temporary file
// next to the target and rename it into place, so readers never observe a partially
// written directory. The default location is ~/.local/share/meteo-history/stations.json.
package storage
