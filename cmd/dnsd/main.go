// Command dnsd runs the authoritative DNS server: a UDP/TCP listener
// dispatching to zone-file and reverse-IPv6 providers, each optionally
// wrapped by delegation filters, plus a read-only introspection HTTP
// API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jroosing/dnsd/internal/api"
	"github.com/jroosing/dnsd/internal/api/handlers"
	"github.com/jroosing/dnsd/internal/config"
	"github.com/jroosing/dnsd/internal/logging"
	"github.com/jroosing/dnsd/internal/server"
)

func main() {
	os.Exit(run())
}

// cliFlags holds parsed command-line flag values. Flags override
// DNSD_*-prefixed environment variables, which override the loaded
// config file, which overrides hardcoded defaults (internal/config.Load).
type cliFlags struct {
	configPath string
	zonesDir   string
	host       string
	port       int
	workers    string
	noTCP      bool
	jsonLogs   bool
	debug      bool
}

func parseFlags(args []string) cliFlags {
	fs := flag.NewFlagSet("dnsd", flag.ExitOnError)
	var f cliFlags
	fs.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	fs.StringVar(&f.zonesDir, "zones-dir", "", "Override zones.directory")
	fs.StringVar(&f.host, "host", "", "Override server.host")
	fs.IntVar(&f.port, "port", 0, "Override server.port")
	fs.StringVar(&f.workers, "workers", "", `Override server.workers ("auto" or an integer)`)
	fs.BoolVar(&f.noTCP, "no-tcp", false, "Disable the TCP listener")
	fs.BoolVar(&f.jsonLogs, "json-logs", false, "Emit structured JSON logs")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug-level logging")
	_ = fs.Parse(args)
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.zonesDir != "" {
		cfg.Zones.Directory = f.zonesDir
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.workers != "" {
		cfg.Server.WorkersRaw = f.workers
		cfg.Server.Workers = config.ParseWorkers(f.workers)
	}
	if f.noTCP {
		cfg.Server.EnableTCP = false
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

// Process exit codes: 0 clean shutdown, 1 bind failure, 2
// configuration error.
const (
	exitOK          = 0
	exitBindFailure = 1
	exitConfigError = 2
)

func run() int {
	f := parseFlags(os.Args[1:])

	configPath := config.ResolveConfigPath(f.configPath, os.Getenv)
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dnsd: config error: %v\n", err)
		return exitConfigError
	}
	applyCLIOverrides(cfg, f)

	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		JSON:       cfg.Logging.Structured,
		IncludePID: cfg.Logging.IncludePID,
	})
	logger.Info("dnsd starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"workers", cfg.Server.Workers.String(),
		"tcp", cfg.Server.EnableTCP,
		"zones_dir", cfg.Zones.Directory,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := server.NewRunner(logger)

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg, logger, runner.Registry, func() handlers.Snapshot {
			snap := runner.Stats().Snapshot()
			return handlers.Snapshot{
				QueriesTotal: snap.QueriesTotal,
				QueriesUDP:   snap.QueriesUDP,
				QueriesTCP:   snap.QueriesTCP,
				ResponsesNX:  snap.ResponsesNX,
				ResponsesErr: snap.ResponsesErr,
				AvgLatencyMs: snap.AvgLatencyMs,
			}
		})
		logger.Info("introspection api starting", "addr", apiSrv.Addr())
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("introspection api error", "err", err)
			}
		}()
	}

	runErr := runner.RunWithContext(ctx, cfg)

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = apiSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "dnsd: %v\n", runErr)
		if errors.Is(runErr, server.ErrConfig) {
			return exitConfigError
		}
		return exitBindFailure
	}
	return exitOK
}
