package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/pfrederiksen/meteo-history/internal/history"
	"github.com/pfrederiksen/meteo-history/internal/scraper"
	"github.com/pfrederiksen/meteo-history/internal/station"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatCSV  OutputFormat = "csv"
)

// ParseFormat validates a --format value
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %s (must be 'text', 'json' or 'csv')", s)
	}
}

// SkippedUnit is a station or month that could not be read
type SkippedUnit struct {
	Unit   string `json:"unit"`
	Reason string `json:"reason"`
}

func skippedUnits(units []scraper.UnitError) []SkippedUnit {
	out := make([]SkippedUnit, 0, len(units))
	for _, u := range units {
		out = append(out, SkippedUnit{Unit: u.Unit, Reason: u.Err.Error()})
	}
	return out
}

// QueryOutput is the JSON shape of a query result
type QueryOutput struct {
	Station          string                `json:"station"`
	StationID        string                `json:"station_id,omitempty"`
	From             string                `json:"from"`
	To               string                `json:"to"`
	Complete         bool                  `json:"complete"`
	ObservationCount int                   `json:"observation_count"`
	Observations     []scraper.Observation `json:"observations"`
	Skipped          []SkippedUnit         `json:"skipped"`
}

// NewQueryOutput flattens a query result for output
func NewQueryOutput(result *history.QueryResult) *QueryOutput {
	observations := result.Observations
	if observations == nil {
		observations = []scraper.Observation{}
	}
	return &QueryOutput{
		Station:          result.Station.Name,
		StationID:        result.Station.ExternalID,
		From:             result.Range.Start().String(),
		To:               result.Range.End().String(),
		Complete:         result.Complete(),
		ObservationCount: len(observations),
		Observations:     observations,
		Skipped:          skippedUnits(result.Skipped),
	}
}

var csvHeader = []string{
	"date", "max_temp_c", "avg_temp_c", "min_temp_c",
	"rain_mm", "total_rain_mm", "snow_cm", "snow_on_ground_cm",
}

func observationRow(o scraper.Observation) []string {
	return []string{
		o.DayKey().String(), o.MaxTempC, o.AvgTempC, o.MinTempC,
		o.RainMm, o.TotalRainMm, o.SnowCm, o.SnowOnGroundCm,
	}
}

// WriteObservations writes a query result in the specified format
func WriteObservations(w io.Writer, result *history.QueryResult, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, NewQueryOutput(result))
	case FormatCSV:
		return writeObservationsCSV(w, result)
	case FormatText:
		return writeObservationsText(w, result)
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// writeJSON outputs v as indented JSON
func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// writeObservationsCSV writes one row per day. Skipped months are not part of the
// table; the caller reports them separately.
func writeObservationsCSV(w io.Writer, result *history.QueryResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range result.Observations {
		if err := cw.Write(observationRow(o)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeObservationsText outputs results as a human-readable table
func writeObservationsText(w io.Writer, result *history.QueryResult) error {
	fmt.Fprintf(w, "%s", result.Station.Name)
	if result.Station.ExternalID != "" {
		fmt.Fprintf(w, " (%s)", result.Station.ExternalID)
	}
	fmt.Fprintf(w, ": %s to %s\n\n", result.Range.Start(), result.Range.End())

	if len(result.Observations) == 0 {
		fmt.Fprintln(w, "No observations found.")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DATE\tMAX °C\tAVG °C\tMIN °C\tRAIN mm\tTOTAL mm\tSNOW cm\tGROUND cm")
		for _, o := range result.Observations {
			row := observationRow(o)
			for i, cell := range row {
				if cell == "" {
					row[i] = "-"
				}
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				row[0], row[1], row[2], row[3], row[4], row[5], row[6], row[7])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "\nTotal: %d days\n", len(result.Observations))
	writeSkippedText(w, "months", result.Skipped)
	return nil
}

func writeSkippedText(w io.Writer, what string, skipped []scraper.UnitError) {
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(w, "Skipped %d %s:\n", len(skipped), what)
	for _, u := range skipped {
		fmt.Fprintf(w, "  %s: %v\n", u.Unit, u.Err)
	}
}

// StationOutput is the JSON shape of one directory entry
type StationOutput struct {
	Name      string `json:"name"`
	ID        string `json:"id"`
	Latitude  string `json:"lat"`
	Longitude string `json:"long"`
	Altitude  string `json:"alt"`
	Label     string `json:"label,omitempty"`
	Link      string `json:"link"`
}

// WriteStations writes directory entries. Text output lists names only unless
// verbose is set.
func WriteStations(w io.Writer, records []*station.Record, format OutputFormat, verbose bool) error {
	switch format {
	case FormatJSON:
		out := make([]StationOutput, 0, len(records))
		for _, rec := range records {
			out = append(out, StationOutput{
				Name:      rec.Name,
				ID:        rec.ExternalID,
				Latitude:  rec.Latitude,
				Longitude: rec.Longitude,
				Altitude:  rec.Altitude,
				Label:     rec.Label,
				Link:      rec.Link,
			})
		}
		return writeJSON(w, out)
	case FormatCSV:
		cw := csv.NewWriter(w)
		cw.Write([]string{"name", "id", "lat", "long", "alt"})
		for _, rec := range records {
			cw.Write([]string{rec.Name, rec.ExternalID, rec.Latitude, rec.Longitude, rec.Altitude})
		}
		cw.Flush()
		return cw.Error()
	case FormatText:
		if !verbose {
			for _, rec := range records {
				fmt.Fprintln(w, rec.Name)
			}
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tID\tLAT\tLONG\tALT")
		for _, rec := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				rec.Name, dash(rec.ExternalID), dash(rec.Latitude), dash(rec.Longitude), dash(rec.Altitude))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

// RefreshOutput is the JSON shape of a refresh report
type RefreshOutput struct {
	CreatedAt    string              `json:"created_at"`
	StationCount int                 `json:"station_count"`
	Complete     bool                `json:"complete"`
	Skipped      []SkippedUnit       `json:"skipped"`
	Changes      *station.DiffResult `json:"changes,omitempty"`
}

// WriteRefresh writes a refresh report
func WriteRefresh(w io.Writer, report *history.RefreshReport, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, RefreshOutput{
			CreatedAt:    report.Directory.CreatedAt,
			StationCount: report.Directory.Len(),
			Complete:     report.Complete(),
			Skipped:      skippedUnits(report.Skipped),
			Changes:      report.Changes,
		})
	case FormatText, FormatCSV:
		fmt.Fprintf(w, "Station directory refreshed: %d stations (%s)\n",
			report.Directory.Len(), report.Directory.CreatedAt)
		writeChangesText(w, report.Changes)
		writeSkippedText(w, "stations", report.Skipped)
		return nil
	default:
		return fmt.Errorf("unknown format: %s", format)
	}
}

func writeChangesText(w io.Writer, changes *station.DiffResult) {
	if changes == nil || changes.Empty() {
		return
	}
	fmt.Fprintf(w, "Added: %d, removed: %d, changed: %d\n",
		len(changes.Added), len(changes.Removed), len(changes.Changed))
	for _, name := range changes.Added {
		fmt.Fprintf(w, "  + %s\n", name)
	}
	for _, name := range changes.Removed {
		fmt.Fprintf(w, "  - %s\n", name)
	}
	for _, c := range changes.Changed {
		fmt.Fprintf(w, "  ~ %s %s: %q -> %q\n", c.Station, c.Field, c.OldValue, c.NewValue)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
