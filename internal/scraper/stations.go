package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/pfrederiksen/meteo-history/internal/logger"
	"github.com/pfrederiksen/meteo-history/internal/station"
)

// DefaultConcurrency caps simultaneous page fetches
const DefaultConcurrency = 4

// indexEntry is one station link found on the index page
type indexEntry struct {
	Name string
	Link string
}

// DirectoryFetcher rebuilds the station directory from the upstream index
type DirectoryFetcher struct {
	docs        DocumentFetcher
	base        *url.URL
	concurrency int
	log         *logger.Logger
	now         func() time.Time
}

// NewDirectoryFetcher creates a DirectoryFetcher reading pages relative to baseURL
func NewDirectoryFetcher(docs DocumentFetcher, baseURL string, concurrency int, log *logger.Logger) (*DirectoryFetcher, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = logger.Default()
	}
	return &DirectoryFetcher{
		docs:        docs,
		base:        base,
		concurrency: concurrency,
		log:         log,
		now:         time.Now,
	}, nil
}

// IndexURL returns the station index URL for the given day
func (f *DirectoryFetcher) IndexURL(day time.Time) string {
	q := url.Values{}
	q.Set(indexDateParam, day.Format(indexDateFmt))
	return f.base.ResolveReference(&url.URL{Path: indexPage, RawQuery: q.Encode()}).String()
}

// Refresh fetches the index page for today and every station detail page. Stations
// whose page cannot be fetched or lacks the expected structure are skipped and
// reported. The returned error is non-nil when the index itself is unusable, when no
// station page could be read, or when ctx was cancelled; no directory is returned then.
func (f *DirectoryFetcher) Refresh(ctx context.Context) (*station.Directory, []UnitError, error) {
	today := f.now()
	indexURL := f.IndexURL(today)

	f.log.Info("Fetching station index", logger.Fields{"url": indexURL})
	doc, err := f.docs.FetchDocument(ctx, indexURL)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching station index: %w", err)
	}

	entries, skipped := f.parseIndex(doc)
	if len(entries) == 0 {
		return nil, skipped, fmt.Errorf("%w: no stations on index page %s", ErrPageMalformed, indexURL)
	}

	records := make([]*station.Record, len(entries))
	failures := make([]error, len(entries))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := f.fetchStation(ctx, entry)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				failures[i] = err
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	dir := station.NewDirectory(today)
	for i, entry := range entries {
		if failures[i] != nil {
			f.log.Warn("Skipping station", logger.Fields{
				"station": entry.Name,
				"url":     entry.Link,
				"reason":  failures[i].Error(),
			})
			skipped = append(skipped, UnitError{Unit: entry.Name, Err: failures[i]})
			continue
		}
		dir.Add(records[i])
	}

	if dir.Len() == 0 {
		return nil, skipped, fmt.Errorf("no station page could be read: %w", CombineUnitErrors(skipped))
	}

	f.log.Info("Station directory rebuilt", logger.Fields{
		"stations": dir.Len(),
		"skipped":  len(skipped),
	})

	return dir, skipped, nil
}

// parseIndex extracts station entries in page order. Duplicate names keep their first
// occurrence; cells without a usable link are reported as skipped.
func (f *DirectoryFetcher) parseIndex(doc *goquery.Document) ([]indexEntry, []UnitError) {
	var entries []indexEntry
	var skipped []UnitError
	seen := make(map[string]bool)

	doc.Find(stationSelector).Each(func(i int, cell *goquery.Selection) {
		a := cell.Find("a").First()
		name := cleanLabel(a.Text())
		href, ok := a.Attr("href")
		if a.Length() == 0 || !ok || name == "" {
			unit := fmt.Sprintf("index entry %d", i+1)
			if label := cleanLabel(cell.Text()); label != "" {
				unit = label
			}
			skipped = append(skipped, UnitError{
				Unit: unit,
				Err:  fmt.Errorf("%w: station cell without link", ErrPageMalformed),
			})
			return
		}

		link, err := f.resolve(href)
		if err != nil {
			skipped = append(skipped, UnitError{Unit: name, Err: err})
			return
		}

		if seen[name] {
			f.log.Debug("Duplicate station name on index", logger.Fields{"station": name, "url": link})
			return
		}
		seen[name] = true
		entries = append(entries, indexEntry{Name: name, Link: link})
	})

	return entries, skipped
}

// fetchStation reads one station detail page
func (f *DirectoryFetcher) fetchStation(ctx context.Context, entry indexEntry) (*station.Record, error) {
	doc, err := f.docs.FetchDocument(ctx, entry.Link)
	if err != nil {
		return nil, err
	}
	return parseStationDetail(doc, entry.Name, entry.Link)
}

// parseStationDetail builds a Record from a detail page. A missing table or fewer
// coordinate cells than expected is a structural failure; a blank value in a present
// cell is kept as an empty string.
func parseStationDetail(doc *goquery.Document, name, link string) (*station.Record, error) {
	table := doc.Find(contentSelector).First().Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: no detail table", ErrPageMalformed)
	}

	rec := station.NewRecord(name, link)
	var coords []string

	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if i == detailLabelRow && cells.Length() > detailLabelCol {
			rec.Label = cleanLabel(cells.Eq(detailLabelCol).Text())
		}
		if cells.Length() > detailCoordCol {
			raw := cells.Eq(detailCoordCol).Text()
			if isSpacer(raw) {
				return
			}
			coords = append(coords, cleanText(raw))
		}
	})

	if len(coords) < detailCoordCount {
		return nil, fmt.Errorf("%w: expected %d coordinate cells, found %d",
			ErrPageMalformed, detailCoordCount, len(coords))
	}
	rec.Latitude = coords[0]
	rec.Longitude = coords[1]
	rec.Altitude = coords[2]

	return rec, nil
}

// resolve turns an index href into an absolute URL
func (f *DirectoryFetcher) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("%w: bad station link %q: %v", ErrPageMalformed, href, err)
	}
	return f.base.ResolveReference(ref).String(), nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base URL %q is not absolute", raw)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base, nil
}
