// Package scraper fetches and parses the Québec climate data pages.
//
// Client turns a URL into a parsed goquery document, applying a per-fetch timeout,
// politeness pacing and bounded retries for transient failures. DirectoryFetcher walks
// the station index and every station detail page to build a station.Directory.
// ObservationFetcher reads the monthly observation tables of one station.
//
// All assumptions about the upstream page structure (selectors, row and column
// offsets) live in layout.go. Failures of a single station or month are reported as
// UnitErrors and never abort the rest of the work.
package scraper
