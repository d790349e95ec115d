package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pfrederiksen/meteo-history/internal/config"
	"github.com/pfrederiksen/meteo-history/internal/history"
	"github.com/pfrederiksen/meteo-history/internal/logger"
	"github.com/pfrederiksen/meteo-history/internal/scraper"
	"github.com/pfrederiksen/meteo-history/internal/station"
	"github.com/pfrederiksen/meteo-history/internal/storage"
)

const (
	ExitSuccess = 0
	ExitError   = 1
	ExitPartial = 2 // Some stations or months were skipped
)

// app holds the state shared by all commands of one invocation
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer

	configFile string
	verbose    bool

	cfg     *config.Config
	log     *logger.Logger
	metrics *logger.Metrics
	store   *storage.Store
	svc     *history.Service

	exitCode int
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:       config.New(),
		stdout:  stdout,
		stderr:  stderr,
		metrics: logger.NewMetrics(),
	}
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return newApp(os.Stdout, os.Stderr).rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meteo-history",
		Short: "Query historical observations of Québec weather stations",
		Long: `A CLI tool to query daily observations recorded by Québec government weather stations.
Keeps a local directory of known stations and fetches monthly observation pages on demand.`,
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	// Define flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/meteo-history/config.yaml)")
	flags.String("data-file", config.DefaultDataFile, "Station directory file")
	flags.String("base-url", scraper.DefaultBaseURL, "Upstream climate data site")
	flags.Int("concurrency", scraper.DefaultConcurrency, "Maximum simultaneous page fetches")
	flags.Duration("timeout", scraper.Timeout, "Timeout of a single page fetch")
	flags.Bool("auto-refresh", false, "Refresh the station directory when none is stored")
	flags.String("log-level", "warn", "Log level: debug, info, warn or error")
	flags.BoolVar(&a.verbose, "verbose", false, "Verbose output and fetch metrics")

	a.bindFlags(flags, map[string]string{
		config.KeyDataFile:     "data-file",
		config.KeyBaseURL:      "base-url",
		config.KeyConcurrency:  "concurrency",
		config.KeyFetchTimeout: "timeout",
		config.KeyAutoRefresh:  "auto-refresh",
		config.KeyLogLevel:     "log-level",
	})

	cmd.AddCommand(
		a.stationsCmd(),
		a.infoCmd(),
		a.refreshCmd(),
		a.queryCmd(),
	)

	return cmd
}

// bindFlags lets explicitly set flags take precedence over the config file and
// the environment
func (a *app) bindFlags(flags *pflag.FlagSet, bindings map[string]string) {
	for key, name := range bindings {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// setup loads the configuration and wires the service used by every subcommand
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log = logger.New(cfg.Level(), a.stderr)
	logger.SetDefault(a.log)

	store, err := storage.New(cfg.DataFile)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	a.store = store

	clientCfg := cfg.ClientConfig()
	clientCfg.Metrics = a.metrics
	clientCfg.Logger = a.log
	client := scraper.NewClient(clientCfg)

	directories, err := scraper.NewDirectoryFetcher(client, cfg.BaseURL, cfg.Concurrency, a.log)
	if err != nil {
		return fmt.Errorf("initializing scraper: %w", err)
	}
	observations := scraper.NewObservationFetcher(client, cfg.Concurrency, a.log)

	a.svc = history.New(store, directories, observations,
		history.WithAutoRefresh(cfg.AutoRefresh),
		history.WithMaxQueryDays(cfg.MaxQueryDays),
		history.WithLogger(a.log),
	)

	if a.verbose {
		fmt.Fprintf(a.stderr, "Data file: %s\n", store.Path())
		fmt.Fprintf(a.stderr, "Upstream: %s\n", cfg.BaseURL)
	}

	return nil
}

func (a *app) teardown(cmd *cobra.Command, args []string) error {
	if a.verbose {
		a.writeMetrics()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return nil
}

// writeMetrics prints the fetch counters and timings to stderr
func (a *app) writeMetrics() {
	snap := a.metrics.Snapshot()
	if len(snap.Counters) == 0 && len(snap.Timings) == 0 {
		return
	}

	fmt.Fprintln(a.stderr, "\nMetrics:")
	names := make([]string, 0, len(snap.Counters))
	for name := range snap.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(a.stderr, "  %s: %d\n", name, snap.Counters[name])
	}

	names = names[:0]
	for name := range snap.Timings {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t := snap.Timings[name]
		fmt.Fprintf(a.stderr, "  %s: count=%d avg=%s min=%s max=%s\n", name, t.Count, t.Average, t.Min, t.Max)
	}
}

// partial records that the command returned a best-effort result
func (a *app) partial(what string, skipped []scraper.UnitError) {
	if len(skipped) == 0 {
		return
	}
	a.exitCode = ExitPartial
	a.log.Warn("Result is incomplete", logger.Fields{
		"skipped": len(skipped),
		"unit":    what,
	})
}

func (a *app) stationsCmd() *cobra.Command {
	var match, sortOrder, format string

	cmd := &cobra.Command{
		Use:   "stations",
		Short: "List known stations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := ParseFormat(strings.ToLower(format))
			if err != nil {
				return err
			}
			order, err := ParseSortOrder(sortOrder)
			if err != nil {
				return err
			}

			dir, err := a.svc.Directory(cmd.Context())
			if err != nil {
				return withRefreshHint(err)
			}

			records := filterStations(dir, match)
			sortStations(records, order)

			if err := WriteStations(a.stdout, records, outFormat, a.verbose); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&match, "match", "", "Only list stations whose name contains this text")
	cmd.Flags().StringVar(&sortOrder, "sort", string(SortByName), "Sort order: name, id or lat")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json or csv")

	return cmd
}

// filterStations returns the records whose name contains match, ignoring case
func filterStations(dir *station.Directory, match string) []*station.Record {
	match = strings.ToLower(strings.TrimSpace(match))
	records := make([]*station.Record, 0, dir.Len())
	for _, name := range dir.Names() {
		if match == "" || strings.Contains(strings.ToLower(name), match) {
			records = append(records, dir.Stations[name])
		}
	}
	return records
}

func (a *app) infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the station directory location and last refresh date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(a.stdout, "Data file: %s\n", a.store.Path())

			refreshed, err := a.svc.LastRefreshDate()
			if err != nil {
				return withRefreshHint(err)
			}
			names, err := a.svc.ListStationNames(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "Last refresh: %s\n", refreshed.Format("2006-01-02"))
			fmt.Fprintf(a.stdout, "Stations: %d\n", len(names))
			return nil
		},
	}
}

func (a *app) refreshCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the station directory from the upstream site",
		Long: `Rebuild the station directory from the upstream site.
Every station page is fetched; this takes from tens of seconds to a few minutes.
The stored directory is only replaced once the rebuild completes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := ParseFormat(strings.ToLower(format))
			if err != nil {
				return err
			}

			report, err := a.svc.RefreshDirectory(cmd.Context())
			if err != nil {
				return err
			}

			if err := WriteRefresh(a.stdout, report, outFormat); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			a.partial("station", report.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "Output format: text or json")

	return cmd
}

func (a *app) queryCmd() *cobra.Command {
	var from, to, format string

	cmd := &cobra.Command{
		Use:   "query <station>",
		Short: "Show daily observations of a station over a date range",
		Long: `Show daily observations of a station over an inclusive date range.
The station is given by name or by its numeric identifier. Values are printed as the
upstream site shows them; blank cells mean no data.`,
		Example: `  meteo-history query "Saint-Alban" --from 2020-11-29 --to 2021-01-06
  meteo-history query 7016960 --from 2021-02-01 --to 2021-02-28 --format csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := ParseFormat(strings.ToLower(format))
			if err != nil {
				return err
			}

			result, err := a.svc.QueryObservations(cmd.Context(), args[0], from, to)
			if err != nil {
				return withRefreshHint(err)
			}

			if err := WriteObservations(a.stdout, result, outFormat); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
			if outFormat == FormatCSV {
				writeSkippedText(a.stderr, "months", result.Skipped)
			}
			a.partial("month", result.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "First day, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "", "Last day, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text, json or csv")

	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")

	return cmd
}

// withRefreshHint tells the user how to create a missing directory
func withRefreshHint(err error) error {
	if errors.Is(err, storage.ErrDirectoryNotFound) {
		return fmt.Errorf("%w (run 'meteo-history refresh' or pass --auto-refresh)", err)
	}
	return err
}

// Run executes the CLI with args and returns the process exit code
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	cmd := a.rootCmd()
	cmd.SetArgs(args)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	return a.exitCode
}

// Execute runs the CLI and exits. An interrupt cancels in-flight fetches.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
