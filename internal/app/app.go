package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"

	"nodesift/internal/asn"
	"nodesift/internal/config"
	"nodesift/internal/detect"
	"nodesift/internal/geo"
	"nodesift/internal/judge"
	"nodesift/internal/node"
	"nodesift/internal/resolver"
	"nodesift/internal/storage"
	"nodesift/internal/storage/sqlite"
	"nodesift/internal/tester"
	"nodesift/internal/unlock"
)

// App represents the application context
type App struct {
	Config   *config.Config
	Storage  storage.Storage
	Registry *asn.Registry
	DBPath   string

	// asnDB is opened lazily by BuildEngine and shared across runs.
	asnDB *geo.ASNDB
}

// New creates a new application instance
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log.SetHandler(cli.Default)
	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dataDir := filepath.Join(homeDir, ".local", "share", "nodesift")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "nodesift.db")
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	registry, err := asn.Load(cfg.Filter.ASNFile)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load asn registry: %w", err)
	}

	if err := validateUnlockServices(cfg.Tester.UnlockServices); err != nil {
		store.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Storage:  store,
		Registry: registry,
		DBPath:   dbPath,
	}, nil
}

// validateUnlockServices rejects unknown unlock_services entries up front so
// a typo in the config fails the run instead of silently probing fewer
// services.
func validateUnlockServices(names []string) error {
	known := unlock.Names()
	for _, name := range names {
		if !slices.Contains(known, name) {
			return fmt.Errorf("unknown unlock service %q, supported: %s", name, strings.Join(known, ", "))
		}
	}
	return nil
}

// Close closes the application and releases resources
func (a *App) Close() error {
	var firstErr error
	if a.asnDB != nil {
		firstErr = a.asnDB.Close()
		a.asnDB = nil
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BuildEngine assembles a detection engine from the loaded configuration.
func (a *App) BuildEngine() (*detect.Engine, error) {
	cfg := a.Config

	res := resolver.New(resolver.Config{
		Workers: int64(cfg.Filter.ResolveWorkers),
		Timeout: cfg.Filter.ResolveTimeout,
	})

	if cfg.Filter.MMDBPath != "" && a.asnDB == nil {
		db, err := geo.OpenASNDB(cfg.Filter.MMDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open mmdb: %w", err)
		}
		a.asnDB = db
	}
	geoClient := geo.NewClient(geo.ClientConfig{LocalDB: a.asnDB})

	var abuseClient detect.AbuseClient
	if c := geo.NewAbuseClient(geo.AbuseConfig{APIKey: cfg.Filter.AbuseAPIKey}); c != nil {
		abuseClient = c
	}

	prober := &sessionProber{cfg: a.testerConfig()}

	return detect.New(res, geoClient, abuseClient, prober, judge.New(a.Registry)), nil
}

func (a *App) testerConfig() tester.Config {
	cfg := a.Config
	tc := tester.Config{
		MihomoBin:      cfg.Tester.MihomoBin,
		TestURL:        cfg.Tester.TestURL,
		MeasureDelay:   cfg.Tester.MeasureDelay,
		StartupTimeout: cfg.Tester.StartupTimeout,
		SwitchTimeout:  cfg.Tester.SwitchTimeout,
		ProbeTimeout:   cfg.Tester.Timeout,
	}
	if cfg.Tester.UnlockEnabled {
		checker := unlock.NewChecker(cfg.Tester.UnlockServices, cfg.Tester.Timeout)
		tc.CheckUnlock = func(ctx context.Context, client *http.Client) map[string]bool {
			return checker.Check(ctx, client)
		}
	}
	return tc
}

// sessionProber creates one fresh probing session per run.
type sessionProber struct {
	cfg tester.Config
}

func (p *sessionProber) Run(ctx context.Context, nodes []node.Node) (map[node.Key]tester.ProbeResult, error) {
	return tester.NewSession(p.cfg).Run(ctx, nodes)
}
