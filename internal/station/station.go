package station

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DateLayout is the layout of Directory.CreatedAt
const DateLayout = "2006-01-02"

var (
	clePattern  = regexp.MustCompile(`cle=(\d+)`)
	datePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// Record represents one weather station
type Record struct {
	Name       string `json:"-"` // Map key in Directory.Stations
	ExternalID string `json:"id"`
	Link       string `json:"link"`
	Latitude   string `json:"lat"`
	Longitude  string `json:"long"`
	Altitude   string `json:"alt"`
	Label      string `json:"label,omitempty"` // Location label from the detail page header
}

// NewRecord creates a Record with ExternalID extracted from link
func NewRecord(name, link string) *Record {
	return &Record{
		Name:       name,
		ExternalID: ExtractID(link),
		Link:       link,
	}
}

// ExtractID returns the digits of the cle= query parameter in link, or ""
func ExtractID(link string) string {
	if m := clePattern.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	return ""
}

// Directory is the full local cache of known stations
type Directory struct {
	CreatedAt string             `json:"createdAt"`
	Stations  map[string]*Record `json:"stations"`
}

// NewDirectory creates an empty directory stamped with the given date
func NewDirectory(created time.Time) *Directory {
	return &Directory{
		CreatedAt: created.Format(DateLayout),
		Stations:  make(map[string]*Record),
	}
}

// Add inserts rec keyed by its name. It reports false if the name is already taken.
func (d *Directory) Add(rec *Record) bool {
	if _, exists := d.Stations[rec.Name]; exists {
		return false
	}
	d.Stations[rec.Name] = rec
	return true
}

// Len returns the number of stations
func (d *Directory) Len() int {
	return len(d.Stations)
}

// Names returns the station names in sorted order
func (d *Directory) Names() []string {
	names := make([]string, 0, len(d.Stations))
	for name := range d.Stations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup finds a station by exact name, then by external identifier. When several
// stations share the identifier the first by name wins.
func (d *Directory) Lookup(key string) (*Record, bool) {
	key = strings.TrimSpace(key)
	if rec, ok := d.Stations[key]; ok {
		return rec, true
	}
	if key == "" {
		return nil, false
	}
	for _, name := range d.Names() {
		if rec := d.Stations[name]; rec.ExternalID == key {
			return rec, true
		}
	}
	return nil, false
}

// CreatedDate parses CreatedAt
func (d *Directory) CreatedDate() (time.Time, error) {
	t, err := time.Parse(DateLayout, d.CreatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing directory date %q: %w", d.CreatedAt, err)
	}
	return t, nil
}

// Normalize prepares a decoded directory for use: it initializes the map, drops
// null entries and fills Record.Name from the map keys.
func (d *Directory) Normalize() {
	if d.Stations == nil {
		d.Stations = make(map[string]*Record)
	}
	for name, rec := range d.Stations {
		if rec == nil {
			delete(d.Stations, name)
			continue
		}
		rec.Name = name
	}
}
