package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/pfrederiksen/meteo-history/internal/daterange"
	"github.com/pfrederiksen/meteo-history/internal/logger"
	"github.com/pfrederiksen/meteo-history/internal/station"
)

// Observation is one day of a station's monthly table. Values are kept as the page
// shows them: blank cells stay empty and decimal commas are not converted.
type Observation struct {
	Year           string `json:"year"`
	Month          string `json:"month"`
	Day            string `json:"day"`
	MaxTempC       string `json:"max_temp_c"`
	AvgTempC       string `json:"avg_temp_c"`
	MinTempC       string `json:"min_temp_c"`
	RainMm         string `json:"rain_mm"`
	TotalRainMm    string `json:"total_rain_mm"`
	SnowCm         string `json:"snow_cm"`
	SnowOnGroundCm string `json:"snow_on_ground_cm"`
	Period         string `json:"period,omitempty"` // Reporting label from the page header
}

// DayKey returns the calendar day of the observation
func (o Observation) DayKey() daterange.DayKey {
	return daterange.DayKey{Year: o.Year, Month: o.Month, Day: o.Day}
}

// ObservationFetcher reads monthly observation pages
type ObservationFetcher struct {
	docs        DocumentFetcher
	concurrency int
	log         *logger.Logger
}

// NewObservationFetcher creates an ObservationFetcher
func NewObservationFetcher(docs DocumentFetcher, concurrency int, log *logger.Logger) *ObservationFetcher {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logger.Default()
	}
	return &ObservationFetcher{docs: docs, concurrency: concurrency, log: log}
}

// MonthURL substitutes the first day of month into the date token of a station link
func MonthURL(link string, month daterange.MonthKey) (string, error) {
	if !linkDatePattern.MatchString(link) {
		return "", fmt.Errorf("%w: station link has no date token: %s", ErrPageMalformed, link)
	}
	return linkDatePattern.ReplaceAllString(link, month.FirstDay()), nil
}

// Fetch returns the observations of rec for every month, concatenated in the order of
// months. Months that fail are skipped and reported; the error is non-nil only when
// ctx was cancelled.
func (f *ObservationFetcher) Fetch(ctx context.Context, rec *station.Record, months []daterange.MonthKey) ([]Observation, []UnitError, error) {
	perMonth := make([][]Observation, len(months))
	failures := make([]error, len(months))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, month := range months {
		i, month := i, month
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			obs, err := f.fetchMonth(ctx, rec, month)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures[i] = err
				return nil
			}
			perMonth[i] = obs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var all []Observation
	var skipped []UnitError
	for i, month := range months {
		if failures[i] != nil {
			f.log.Warn("Skipping month", logger.Fields{
				"station": rec.Name,
				"month":   month.String(),
				"reason":  failures[i].Error(),
			})
			skipped = append(skipped, UnitError{Unit: month.String(), Err: failures[i]})
			continue
		}
		all = append(all, perMonth[i]...)
	}

	return all, skipped, nil
}

func (f *ObservationFetcher) fetchMonth(ctx context.Context, rec *station.Record, month daterange.MonthKey) ([]Observation, error) {
	pageURL, err := MonthURL(rec.Link, month)
	if err != nil {
		return nil, err
	}

	f.log.Debug("Fetching observations", logger.Fields{
		"station": rec.Name,
		"month":   month.String(),
		"url":     pageURL,
	})

	doc, err := f.docs.FetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return parseObservations(doc, month)
}

// parseObservations extracts the daily rows of one monthly page. Year and month come
// from the requested month; only rows whose first cell is a day 01-31 are kept.
func parseObservations(doc *goquery.Document, month daterange.MonthKey) ([]Observation, error) {
	tables := doc.Find(contentSelector).First().Find("table")
	if tables.Length() <= obsDataTable {
		return nil, fmt.Errorf("%w: expected at least %d tables, found %d",
			ErrPageMalformed, obsDataTable+1, tables.Length())
	}

	period := cleanLabel(tables.Eq(obsHeaderTable).Find("tr").Eq(obsPeriodRow).Find("td").Eq(obsPeriodCol).Text())
	if reported, ok := parsePeriod(period); ok && reported != month {
		return nil, fmt.Errorf("%w: page reports %s, requested %s",
			ErrPageMalformed, reported.String(), month.String())
	}

	observations := make([]Observation, 0, 31)
	tables.Eq(obsDataTable).Find("tr").Each(func(_ int, row *goquery.Selection) {
		var cells []string
		row.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, cleanText(td.Text()))
		})
		if len(cells) == 0 || !isDay(cells[colDay]) {
			return
		}

		cell := func(i int) string {
			if i < len(cells) {
				return cells[i]
			}
			return ""
		}

		observations = append(observations, Observation{
			Year:           month.Year,
			Month:          month.Month,
			Day:            cells[colDay],
			MaxTempC:       cell(colMaxTemp),
			AvgTempC:       cell(colAvgTemp),
			MinTempC:       cell(colMinTemp),
			RainMm:         cell(colRain),
			TotalRainMm:    cell(colTotalRain),
			SnowCm:         cell(colSnow),
			SnowOnGroundCm: cell(colSnowOnGround),
			Period:         period,
		})
	})

	return observations, nil
}

// parsePeriod reads a "<mois> <année>" header label such as "novembre 2020"
func parsePeriod(label string) (daterange.MonthKey, bool) {
	fields := strings.Fields(strings.ToLower(label))
	if len(fields) != 2 {
		return daterange.MonthKey{}, false
	}
	month, ok := frenchMonths[fields[0]]
	if !ok || len(fields[1]) != 4 {
		return daterange.MonthKey{}, false
	}
	for _, r := range fields[1] {
		if r < '0' || r > '9' {
			return daterange.MonthKey{}, false
		}
	}
	return daterange.MonthKey{Year: fields[1], Month: month}, true
}
