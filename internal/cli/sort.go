package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pfrederiksen/meteo-history/internal/station"
)

// SortOrder represents the available sorting options
type SortOrder string

const (
	SortByName     SortOrder = "name"
	SortByID       SortOrder = "id"
	SortByLatitude SortOrder = "lat"
)

// ParseSortOrder validates a --sort value
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(s)); o {
	case SortByName, SortByID, SortByLatitude:
		return o, nil
	default:
		return "", fmt.Errorf("invalid sort order: %s (must be 'name', 'id' or 'lat')", s)
	}
}

// sortStations sorts records based on the specified sort order
func sortStations(records []*station.Record, order SortOrder) {
	switch order {
	case SortByName:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].Name < records[j].Name
		})
	case SortByID:
		sort.SliceStable(records, func(i, j int) bool {
			return compareNumeric(records[i].ExternalID, records[j].ExternalID, records[i], records[j])
		})
	case SortByLatitude:
		sort.SliceStable(records, func(i, j int) bool {
			return compareNumeric(records[i].Latitude, records[j].Latitude, records[i], records[j])
		})
	}
}

// compareNumeric compares two upstream numeric fields. Values that do not parse
// go last; ties fall back to the station name.
func compareNumeric(a, b string, ri, rj *station.Record) bool {
	x, errX := parseDecimal(a)
	y, errY := parseDecimal(b)

	switch {
	case errX == nil && errY == nil && x != y:
		return x < y
	case errX == nil && errY != nil:
		return true
	case errX != nil && errY == nil:
		return false
	}
	return ri.Name < rj.Name
}

// parseDecimal reads a number written with a decimal comma or point
func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
}
