package scraper

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pfrederiksen/meteo-history/internal/logger"
)

// Behaviours of a fake station page
const (
	pageNormal    = "normal"
	pageMalformed = "malformed" // content block without tables
	pageOneTable  = "one-table" // detail table only, no daily rows
	pageNotFound  = "not-found"
	pageBlankAlt  = "blank-alt" // altitude cell present but empty
	pageHang      = "hang"      // never answers until the client gives up
)

type fakeStation struct {
	Name     string
	Key      string // value of cle=, or of station= when NoCle is set
	NoCle    bool
	Behavior string
	Months   map[string]string // per YYYY-MM override of Behavior
}

func (s fakeStation) href(date string) string {
	if s.NoCle {
		return fmt.Sprintf("sommaire.asp?station=%s&date_selection=%s", s.Key, date)
	}
	return fmt.Sprintf("sommaire.asp?cle=%s&date_selection=%s", s.Key, date)
}

// fakeSite serves an index page and station pages shaped like the upstream site
type fakeSite struct {
	t        *testing.T
	stations []fakeStation
	server   *httptest.Server

	mu   sync.Mutex
	hits map[string]int

	release chan struct{} // unblocks hanging handlers at cleanup
}

func newFakeSite(t *testing.T, stations ...fakeStation) *fakeSite {
	t.Helper()
	site := &fakeSite{t: t, stations: stations, hits: make(map[string]int), release: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("/climat/donnees/OQtableau.asp", site.serveIndex)
	mux.HandleFunc("/climat/donnees/sommaire.asp", site.serveStation)
	site.server = httptest.NewServer(mux)
	t.Cleanup(site.server.Close)
	t.Cleanup(func() { close(site.release) })

	return site
}

func (s *fakeSite) BaseURL() string {
	return s.server.URL + "/climat/donnees/"
}

func (s *fakeSite) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func (s *fakeSite) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++
	s.hits[r.URL.RequestURI()]++
}

func (s *fakeSite) serveIndex(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	date := r.URL.Query().Get("date_selection")

	var b strings.Builder
	b.WriteString(`<html><body><div id="contenu"><table>`)
	for _, st := range s.stations {
		fmt.Fprintf(&b, `<tr><td class="station"><a href="%s">%s</a></td><td>-3,5</td></tr>`,
			st.href(date), st.Name)
	}
	b.WriteString(`</table></div></body></html>`)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, b.String())
}

func (s *fakeSite) serveStation(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	q := r.URL.Query()
	key := q.Get("cle")
	if key == "" {
		key = q.Get("station")
	}

	var st *fakeStation
	for i := range s.stations {
		if s.stations[i].Key == key {
			st = &s.stations[i]
		}
	}
	if st == nil {
		http.NotFound(w, r)
		return
	}

	date, err := time.Parse("2006-01-02", q.Get("date_selection"))
	if err != nil {
		http.Error(w, "bad date", http.StatusBadRequest)
		return
	}

	behavior := st.Behavior
	if override, ok := st.Months[date.Format("2006-01")]; ok {
		behavior = override
	}

	switch behavior {
	case pageHang:
		select {
		case <-r.Context().Done():
		case <-s.release:
		}
		return
	case pageNotFound:
		http.NotFound(w, r)
		return
	case pageMalformed:
		fmt.Fprint(w, `<html><body><div id="contenu"><p>Aucune donnée</p></div></body></html>`)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, stationPage(st.Name, date, behavior))
}

// stationPage renders the header table and, unless behavior says otherwise, the daily table
func stationPage(name string, date time.Time, behavior string) string {
	alt := "76"
	if behavior == pageBlankAlt {
		alt = ""
	}

	var b strings.Builder
	b.WriteString(`<html><body><div id="menu"><table><tr><td>menu</td></tr></table></div>`)
	b.WriteString(`<div id="contenu">`)
	fmt.Fprintf(&b, `<table>
		<tr><td>Station</td><td>%s&nbsp;(Portneuf)</td><td>Latitude</td><td>46,72</td></tr>
		<tr><td>Climat</td><td>7016960</td><td>Longitude</td><td>-72,08</td></tr>
		<tr><td>Période</td><td>%s&nbsp;%d</td><td>Altitude</td><td>%s</td></tr>
		<tr><td></td><td></td><td></td><td>&nbsp;</td></tr>
	</table>`, name, frenchMonthName(date.Month()), date.Year(), alt)

	if behavior != pageOneTable {
		b.WriteString(`<table>
			<tr><td>Jour</td><td>Max</td><td></td><td>Moy</td><td></td><td>Min</td></tr>`)
		last := time.Date(date.Year(), date.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
		for day := 1; day <= last; day++ {
			b.WriteString("<tr>")
			for _, cell := range fixtureRow(day) {
				fmt.Fprintf(&b, "<td>%s</td>", cell)
			}
			b.WriteString("</tr>\n")
		}
		b.WriteString(`<tr><td>Total</td><td>&nbsp;</td></tr></table>`)
	}

	b.WriteString(`</div></body></html>`)
	return b.String()
}

// fixtureRow returns the 15 raw cells of a daily row
func fixtureRow(day int) []string {
	snow := fmt.Sprintf("%d", day%3)
	if day%2 == 0 {
		snow = "&nbsp;"
	}
	return []string{
		fmt.Sprintf("&nbsp;%02d", day),
		fmt.Sprintf("%d,5", day),
		"M",
		fmt.Sprintf("%d,0", day-10),
		"",
		fmt.Sprintf("-%d,5", day),
		"", "",
		fmt.Sprintf("%d,2", day%4),
		"",
		fmt.Sprintf("%d,4", day%5),
		"",
		snow,
		"",
		fmt.Sprintf("\n\t%d ", day*2),
	}
}

func frenchMonthName(m time.Month) string {
	for name, num := range frenchMonths {
		if num == fmt.Sprintf("%02d", int(m)) {
			return name
		}
	}
	return ""
}

// newTestClient returns a Client with no pacing and immediate retries
func newTestClient(retries int, timeout time.Duration) *Client {
	c := NewClient(ClientConfig{
		Timeout:         timeout,
		RequestInterval: -1,
		Retries:         retries,
		Metrics:         logger.NewMetrics(),
		Logger:          logger.Nop(),
	})
	c.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}
