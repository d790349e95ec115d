// Package station defines the weather station directory and its records.
//
// A Directory maps station display names to Records and carries the calendar date on
// which it was built. Directories are rebuilt wholesale by a refresh and are read-only
// afterward.
package station
