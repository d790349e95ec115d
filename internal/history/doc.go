// Package history is the query surface of meteo-history.
//
// A Service ties the station directory cache, the directory fetcher and the
// observation fetcher together behind four calls: list station names, report the
// last refresh date, rebuild the directory, and query a station's daily observations
// over a date range. Partial results are always returned with the units that were
// skipped, so callers can tell a complete answer from a best-effort one.
package history
