package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pfrederiksen/meteo-history/internal/daterange"
	"github.com/pfrederiksen/meteo-history/internal/logger"
	"github.com/pfrederiksen/meteo-history/internal/scraper"
	"github.com/pfrederiksen/meteo-history/internal/station"
	"github.com/pfrederiksen/meteo-history/internal/storage"
)

var (
	// ErrStationNotFound is returned when a query names a station absent from the directory.
	ErrStationNotFound = errors.New("station not found")
	// ErrEmptyDirectory is returned when a rebuild produced no station; the stored
	// directory is kept.
	ErrEmptyDirectory = errors.New("rebuilt station directory is empty")
)

// Store persists the station directory
type Store interface {
	Load() (*station.Directory, error)
	Save(dir *station.Directory) error
}

// DirectoryFetcher rebuilds the station directory from upstream
type DirectoryFetcher interface {
	Refresh(ctx context.Context) (*station.Directory, []scraper.UnitError, error)
}

// ObservationFetcher reads a station's monthly observation pages
type ObservationFetcher interface {
	Fetch(ctx context.Context, rec *station.Record, months []daterange.MonthKey) ([]scraper.Observation, []scraper.UnitError, error)
}

// RefreshReport is the outcome of a directory rebuild
type RefreshReport struct {
	Directory *station.Directory
	Skipped   []scraper.UnitError
	Changes   *station.DiffResult // Against the directory stored before the rebuild
}

// Complete reports whether every station on the index was kept
func (r *RefreshReport) Complete() bool {
	return len(r.Skipped) == 0
}

// Err combines the skipped stations into a single error, or nil
func (r *RefreshReport) Err() error {
	return scraper.CombineUnitErrors(r.Skipped)
}

// QueryResult holds the observations found for one station over one range
type QueryResult struct {
	Station      *station.Record
	Range        daterange.Range
	Observations []scraper.Observation
	Skipped      []scraper.UnitError
}

// Complete reports whether every month of the range was read
func (r *QueryResult) Complete() bool {
	return len(r.Skipped) == 0
}

// Err combines the skipped months into a single error, or nil
func (r *QueryResult) Err() error {
	return scraper.CombineUnitErrors(r.Skipped)
}

// DefaultMaxQueryDays bounds a query range to about a century of daily pages
const DefaultMaxQueryDays = 36600

// Option configures a Service
type Option func(*Service)

// WithAutoRefresh makes queries rebuild the directory when none is stored yet
func WithAutoRefresh(enabled bool) Option {
	return func(s *Service) {
		s.autoRefresh = enabled
	}
}

// WithMaxQueryDays bounds the number of days a single query may cover. Zero or a
// negative value removes the bound.
func WithMaxQueryDays(days int) Option {
	return func(s *Service) {
		s.maxQueryDays = days
	}
}

// WithLogger sets the logger used by the Service
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Service answers station and observation queries
type Service struct {
	store        Store
	directories  DirectoryFetcher
	observations ObservationFetcher
	autoRefresh  bool
	maxQueryDays int
	log          *logger.Logger

	refreshMu sync.Mutex // serializes rebuilds
	mu        sync.Mutex
	dir       *station.Directory
}

// New creates a Service
func New(store Store, directories DirectoryFetcher, observations ObservationFetcher, opts ...Option) *Service {
	s := &Service{
		store:        store,
		directories:  directories,
		observations: observations,
		maxQueryDays: DefaultMaxQueryDays,
		log:          logger.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Directory returns the stored station directory, loading it on first use. With
// auto-refresh enabled a missing directory is rebuilt first; otherwise the error
// wraps storage.ErrDirectoryNotFound. Concurrent callers share a single rebuild.
func (s *Service) Directory(ctx context.Context) (*station.Directory, error) {
	if dir := s.cached(); dir != nil {
		return dir, nil
	}

	dir, err := s.store.Load()
	if err == nil {
		s.setDirectory(dir)
		return dir, nil
	}
	if !errors.Is(err, storage.ErrDirectoryNotFound) || !s.autoRefresh {
		return nil, fmt.Errorf("loading station directory: %w", err)
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// Another caller may have rebuilt it while we waited
	if dir := s.cached(); dir != nil {
		return dir, nil
	}
	if dir, err := s.store.Load(); err == nil {
		s.setDirectory(dir)
		return dir, nil
	}

	s.log.Info("No station directory stored, refreshing", nil)
	report, err := s.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return report.Directory, nil
}

// ListStationNames returns the known station names, sorted
func (s *Service) ListStationNames(ctx context.Context) ([]string, error) {
	dir, err := s.Directory(ctx)
	if err != nil {
		return nil, err
	}
	return dir.Names(), nil
}

// LastRefreshDate returns the date the stored directory was built. It never
// triggers a refresh.
func (s *Service) LastRefreshDate() (time.Time, error) {
	dir := s.cached()
	if dir == nil {
		loaded, err := s.store.Load()
		if err != nil {
			return time.Time{}, fmt.Errorf("loading station directory: %w", err)
		}
		s.setDirectory(loaded)
		dir = loaded
	}
	return dir.CreatedDate()
}

// RefreshDirectory rebuilds the directory from upstream and stores it. The stored
// directory is only replaced once the rebuild completed; a cancelled or failed
// rebuild leaves it untouched, and so does a rebuild that found no station.
func (s *Service) RefreshDirectory(ctx context.Context) (*RefreshReport, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.refresh(ctx)
}

// refresh rebuilds and stores the directory. The caller holds refreshMu.
func (s *Service) refresh(ctx context.Context) (*RefreshReport, error) {
	start := time.Now()
	dir, skipped, err := s.directories.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refreshing station directory: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("refreshing station directory: %w", err)
	}
	if dir == nil || dir.Len() == 0 {
		if cause := scraper.CombineUnitErrors(skipped); cause != nil {
			return nil, fmt.Errorf("refreshing station directory: %w: %w", ErrEmptyDirectory, cause)
		}
		return nil, fmt.Errorf("refreshing station directory: %w", ErrEmptyDirectory)
	}

	previous, err := s.store.Load()
	if err != nil && !errors.Is(err, storage.ErrDirectoryNotFound) {
		s.log.Warn("Replacing unreadable station directory", logger.Fields{"reason": err.Error()})
	}
	changes := station.Diff(previous, dir)

	if err := s.store.Save(dir); err != nil {
		return nil, fmt.Errorf("saving station directory: %w", err)
	}
	s.setDirectory(dir)

	s.log.Info("Station directory refreshed", logger.Fields{
		"stations": dir.Len(),
		"skipped":  len(skipped),
		"added":    len(changes.Added),
		"removed":  len(changes.Removed),
		"duration": time.Since(start).String(),
	})

	return &RefreshReport{Directory: dir, Skipped: skipped, Changes: changes}, nil
}

// QueryObservations returns the daily observations of a station between start and
// end, both YYYY-MM-DD and inclusive. The station is looked up by name, then by its
// numeric identifier. Months that could not be read are listed in Skipped.
func (s *Service) QueryObservations(ctx context.Context, stationName, start, end string) (*QueryResult, error) {
	rng, err := daterange.ExpandMax(start, end, s.maxQueryDays)
	if err != nil {
		return nil, err
	}

	dir, err := s.Directory(ctx)
	if err != nil {
		return nil, err
	}

	rec, ok := dir.Lookup(stationName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStationNotFound, stationName)
	}

	s.log.Debug("Querying observations", logger.Fields{
		"station": rec.Name,
		"from":    rng.Start().String(),
		"to":      rng.End().String(),
		"months":  len(rng.Months),
	})

	fetched, skipped, err := s.observations.Fetch(ctx, rec, rng.Months)
	if err != nil {
		return nil, fmt.Errorf("fetching observations for %s: %w", rec.Name, err)
	}

	// Monthly pages cover whole months; keep the requested days only
	observations := make([]scraper.Observation, 0, len(rng.Days))
	for _, obs := range fetched {
		if rng.Contains(obs.DayKey()) {
			observations = append(observations, obs)
		}
	}

	return &QueryResult{
		Station:      rec,
		Range:        rng,
		Observations: observations,
		Skipped:      skipped,
	}, nil
}

func (s *Service) cached() *station.Directory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

func (s *Service) setDirectory(dir *station.Directory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir
}
