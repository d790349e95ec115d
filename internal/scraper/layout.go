package scraper

import "regexp"

// Upstream site layout. Everything the parsers assume about page structure is here.
const (
	DefaultBaseURL = "http://www.environnement.gouv.qc.ca/climat/donnees/"

	indexPage      = "OQtableau.asp"
	indexDateParam = "date_selection"
	indexDateFmt   = "2006-01-02"

	// Main content block shared by detail and observation pages
	contentSelector = "div#contenu"
	// Station cells on the index page, each wrapping one link
	stationSelector = "td.station"

	// Station detail page, first table under the content block
	detailLabelRow   = 0
	detailLabelCol   = 1
	detailCoordCol   = 3
	detailCoordCount = 3 // latitude, longitude, altitude

	// Observation page: first table holds the period header, second the daily rows
	obsHeaderTable = 0
	obsPeriodRow   = 2
	obsPeriodCol   = 1
	obsDataTable   = 1

	colDay          = 0
	colMaxTemp      = 1
	colAvgTemp      = 3
	colMinTemp      = 5
	colRain         = 8
	colTotalRain    = 10
	colSnow         = 12
	colSnowOnGround = 14
)

// linkDatePattern matches the date token embedded in station links
var linkDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// frenchMonths maps the period header month names to month numbers
var frenchMonths = map[string]string{
	"janvier":   "01",
	"février":   "02",
	"mars":      "03",
	"avril":     "04",
	"mai":       "05",
	"juin":      "06",
	"juillet":   "07",
	"août":      "08",
	"septembre": "09",
	"octobre":   "10",
	"novembre":  "11",
	"décembre":  "12",
}
