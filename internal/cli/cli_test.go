package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upstream serves an index of two stations; Amqui has no page for December 2020
func upstream(t *testing.T) *httptest.Server {
	t.Helper()

	stations := map[string]string{"7016960": "Saint-Alban", "7050145": "Amqui"}

	mux := http.NewServeMux()
	mux.HandleFunc("/climat/donnees/OQtableau.asp", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date_selection")
		fmt.Fprint(w, `<html><body><table>`)
		for _, key := range []string{"7016960", "7050145"} {
			fmt.Fprintf(w, `<tr><td class="station"><a href="sommaire.asp?cle=%s&amp;date_selection=%s">%s</a></td></tr>`,
				key, date, stations[key])
		}
		fmt.Fprint(w, `</table></body></html>`)
	})
	mux.HandleFunc("/climat/donnees/sommaire.asp", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		name, ok := stations[q.Get("cle")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		date, err := time.Parse("2006-01-02", q.Get("date_selection"))
		if err != nil {
			http.Error(w, "bad date", http.StatusBadRequest)
			return
		}
		if name == "Amqui" && date.Year() == 2020 && date.Month() == time.December {
			fmt.Fprint(w, `<html><body><div id="contenu"><p>Données non disponibles</p></div></body></html>`)
			return
		}

		fmt.Fprintf(w, `<html><body><div id="contenu"><table>
			<tr><td>Station</td><td>%s</td><td>Latitude</td><td>46,72</td></tr>
			<tr><td>Climat</td><td>x</td><td>Longitude</td><td>-72,08</td></tr>
			<tr><td>Période</td><td></td><td>Altitude</td><td>76</td></tr>
		</table><table>`, name)
		last := time.Date(date.Year(), date.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		for day := 1; day <= last; day++ {
			fmt.Fprintf(w, `<tr><td>%02d</td><td>%d,5</td><td></td><td>0,0</td><td></td><td>-%d,5</td><td></td><td></td><td>1,2</td><td></td><td>1,2</td><td></td><td></td><td></td><td>4</td></tr>`,
				day, day, day)
		}
		fmt.Fprint(w, `</table></div></body></html>`)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type testEnv struct {
	dataFile string
}

func newTestEnv(t *testing.T, server *httptest.Server) *testEnv {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("METEO_HISTORY_REQUEST_INTERVAL", "0s")
	t.Setenv("METEO_HISTORY_RETRIES", "0")
	t.Setenv("METEO_HISTORY_LOG_LEVEL", "error")
	if server != nil {
		t.Setenv("METEO_HISTORY_BASE_URL", server.URL+"/climat/donnees/")
	}
	return &testEnv{dataFile: filepath.Join(t.TempDir(), "stations.json")}
}

func (e *testEnv) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	args = append(args, "--data-file", e.dataFile)
	code := Run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRefreshAndStations(t *testing.T) {
	env := newTestEnv(t, upstream(t))

	code, out, errOut := env.run("refresh")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "Station directory refreshed: 2 stations")

	code, out, _ = env.run("stations")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Amqui\nSaint-Alban\n", out)

	code, out, _ = env.run("stations", "--match", "saint")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Saint-Alban\n", out)

	code, out, errOut = env.run("stations", "--verbose", "--sort", "id")
	require.Equal(t, ExitSuccess, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, lines[1], "7016960")
	assert.Contains(t, lines[2], "7050145")
	assert.Contains(t, errOut, "Data file: "+env.dataFile)
}

func TestStations_JSON(t *testing.T) {
	env := newTestEnv(t, upstream(t))
	code, _, _ := env.run("refresh")
	require.Equal(t, ExitSuccess, code)

	code, out, _ := env.run("stations", "--format", "json")
	require.Equal(t, ExitSuccess, code)

	var stations []StationOutput
	require.NoError(t, json.Unmarshal([]byte(out), &stations))
	require.Len(t, stations, 2)
	assert.Equal(t, "Amqui", stations[0].Name)
	assert.Equal(t, "7050145", stations[0].ID)
	assert.Equal(t, "46,72", stations[0].Latitude)
	assert.Equal(t, "76", stations[0].Altitude)
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t, upstream(t))

	code, out, errOut := env.run("info")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, out, "Data file: "+env.dataFile)
	assert.Contains(t, errOut, "station directory not found")
	assert.Contains(t, errOut, "meteo-history refresh")

	code, _, _ = env.run("refresh")
	require.Equal(t, ExitSuccess, code)

	code, out, _ = env.run("info")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "Last refresh: "+time.Now().Format("2006-01-02"))
	assert.Contains(t, out, "Stations: 2")
}

func TestQuery_Text(t *testing.T) {
	env := newTestEnv(t, upstream(t))
	code, _, _ := env.run("refresh")
	require.Equal(t, ExitSuccess, code)

	code, out, errOut := env.run("query", "Saint-Alban", "--from", "2021-01-30", "--to", "2021-02-02")
	require.Equal(t, ExitSuccess, code, errOut)

	assert.Contains(t, out, "Saint-Alban (7016960): 2021-01-30 to 2021-02-02")
	assert.Contains(t, out, "2021-01-30")
	assert.Contains(t, out, "2021-02-02")
	assert.NotContains(t, out, "2021-01-29")
	assert.NotContains(t, out, "2021-02-03")
	assert.Contains(t, out, "Total: 4 days")
	assert.NotContains(t, out, "Skipped")
}

func TestQuery_CSV(t *testing.T) {
	env := newTestEnv(t, upstream(t))
	code, _, _ := env.run("refresh")
	require.Equal(t, ExitSuccess, code)

	code, out, _ := env.run("query", "7016960", "--from", "2020-02-28", "--to", "2020-03-01", "--format", "csv")
	require.Equal(t, ExitSuccess, code)

	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"2020-02-28", "28,5", "0,0", "-28,5", "1,2", "1,2", "", "4"}, rows[1])
	assert.Equal(t, "2020-02-29", rows[2][0])
	assert.Equal(t, "2020-03-01", rows[3][0])
}

func TestQuery_PartialResult(t *testing.T) {
	env := newTestEnv(t, upstream(t))
	code, _, _ := env.run("refresh")
	require.Equal(t, ExitSuccess, code)

	code, out, _ := env.run("query", "Amqui", "--from", "2020-11-29", "--to", "2021-01-06", "--format", "json")
	require.Equal(t, ExitPartial, code)

	var result QueryOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "Amqui", result.Station)
	assert.Equal(t, "2020-11-29", result.From)
	assert.Equal(t, "2021-01-06", result.To)
	assert.False(t, result.Complete)
	assert.Equal(t, 8, result.ObservationCount)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "2020-12", result.Skipped[0].Unit)
	assert.Contains(t, result.Skipped[0].Reason, "malformed")
}

func TestQuery_AutoRefresh(t *testing.T) {
	env := newTestEnv(t, upstream(t))

	code, out, errOut := env.run("query", "Saint-Alban", "--from", "2021-01-01", "--to", "2021-01-01", "--auto-refresh")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "Total: 1 days")
	assert.FileExists(t, env.dataFile)
}

func TestQuery_Errors(t *testing.T) {
	env := newTestEnv(t, upstream(t))
	code, _, _ := env.run("refresh")
	require.Equal(t, ExitSuccess, code)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown station", []string{"query", "Atlantis", "--from", "2021-01-01", "--to", "2021-01-02"}, "station not found"},
		{"reversed range", []string{"query", "Amqui", "--from", "2021-01-06", "--to", "2020-11-29"}, "start date is after end date"},
		{"invalid date", []string{"query", "Amqui", "--from", "2021-02-29", "--to", "2021-03-01"}, "invalid date format"},
		{"range too long", []string{"query", "Amqui", "--from", "0001-01-01", "--to", "9999-12-31"}, "date range too long"},
		{"missing flag", []string{"query", "Amqui", "--from", "2021-01-01"}, "required flag"},
		{"invalid format", []string{"query", "Amqui", "--from", "2021-01-01", "--to", "2021-01-01", "--format", "xml"}, "invalid format"},
		{"missing station", []string{"query", "--from", "2021-01-01", "--to", "2021-01-01"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := env.run(tt.args...)
			assert.Equal(t, ExitError, code)
			assert.Contains(t, errOut, tt.wantErr)
		})
	}
}

func TestRefresh_UpstreamDown(t *testing.T) {
	server := upstream(t)
	env := newTestEnv(t, server)
	server.Close()

	code, _, errOut := env.run("refresh")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "network failure")
	assert.NoFileExists(t, env.dataFile)
}

func TestVerbosePrintsMetrics(t *testing.T) {
	env := newTestEnv(t, upstream(t))

	code, _, errOut := env.run("refresh", "--verbose")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, errOut, "Metrics:")
	assert.Contains(t, errOut, "fetch.ok: 3")
	assert.Contains(t, errOut, "fetch.page: count=3")
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	code, _, errOut := env.run("stations", "--concurrency", "0")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, errOut, "concurrency")
}
