package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jroosing/dnsd/internal/config"
	"github.com/jroosing/dnsd/internal/delegation"
	"github.com/jroosing/dnsd/internal/name"
	"github.com/jroosing/dnsd/internal/provider"
	"github.com/jroosing/dnsd/internal/reverseipv6"
	"github.com/jroosing/dnsd/internal/zonefile"
)

// ErrConfig marks startup failures caused by configuration (zone file
// contents, delegation or reverse-IPv6 settings) rather than socket
// binding, so cmd/dnsd can map them to the configuration-error exit
// code.
var ErrConfig = errors.New("invalid server configuration")

// Runner orchestrates the DNS server startup, configuration, and shutdown.
type Runner struct {
	logger   *slog.Logger
	stats    *DNSStats
	registry atomic.Pointer[provider.Registry]
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger, stats: NewDNSStats()}
}

// Stats returns the runner's query-counter collector, readable at any
// time (including before Run is called or while it is in flight) since
// DNSStats is safe for concurrent use. The introspection API's /stats
// endpoint reads this.
func (r *Runner) Stats() *DNSStats {
	return r.stats
}

// Registry returns the provider registry built by the most recent Run
// call, or nil if Run has not yet built one. Used by the introspection
// API's /providers endpoint.
func (r *Runner) Registry() *provider.Registry {
	return r.registry.Load()
}

// Run starts the DNS server with the given configuration, installing
// its own SIGINT/SIGTERM handling. It blocks until shutdown.
//
// Server lifecycle:
//  1. Configure runtime (GOMAXPROCS based on workers setting)
//  2. Build the provider registry from zone files and reverse-IPv6 config
//  3. Start UDP and optionally TCP servers against a shared Dispatcher
//  4. Wait for shutdown signal (SIGINT/SIGTERM)
//  5. Gracefully stop servers with timeout
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return r.RunWithContext(ctx, cfg)
}

// RunWithContext is Run, but against a caller-supplied context instead
// of installing its own signal handling; cmd/dnsd uses this so the same
// shutdown signal also stops the introspection API.
func (r *Runner) RunWithContext(ctx context.Context, cfg *config.Config) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	desiredProcs := r.configureRuntime(cfg)
	maxConc := r.calculateMaxConcurrency(cfg, desiredProcs)

	registry, err := r.buildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("server: building provider registry: %w: %w", ErrConfig, err)
	}
	r.registry.Store(registry)

	deadline := parseWorkDeadline(cfg.Server.WorkDeadline)
	dispatcher := &Dispatcher{Logger: r.logger, Registry: registry, Deadline: deadline, Stats: r.stats}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	r.logStartup(cfg, addr, maxConc, len(registry.Providers()))

	udp := &UDPServer{Logger: r.logger, Handler: dispatcher, WorkersPerSocket: maxConc}
	var tcp *TCPServer
	if cfg.Server.EnableTCP {
		tcp = &TCPServer{Logger: r.logger, Handler: dispatcher}
	}

	errCh := make(chan error, 2)
	go func() { errCh <- udp.Run(ctx, addr) }()
	if tcp != nil {
		go func() { errCh <- tcp.Run(ctx, addr) }()
	}

	select {
	case <-ctx.Done():
		// shutdown requested via signal
	case err := <-errCh:
		if err != nil {
			cancelRun()
			return err
		}
	}

	stopTimeout := 5 * time.Second
	_ = udp.Stop(stopTimeout)
	if tcp != nil {
		_ = tcp.Stop(stopTimeout)
	}
	return nil
}

// configureRuntime sets GOMAXPROCS based on worker configuration.
// Workers can reduce but never increase parallelism beyond the default.
func (r *Runner) configureRuntime(cfg *config.Config) int {
	baseProcs := runtime.GOMAXPROCS(0)
	if baseProcs <= 0 {
		baseProcs = 1
	}
	desiredProcs := baseProcs

	if cfg.Server.Workers.Mode == config.WorkersFixed {
		w := cfg.Server.Workers.Value
		if w <= 0 {
			w = 1
		}
		if w < desiredProcs {
			desiredProcs = w
		}
	}

	prev := runtime.GOMAXPROCS(desiredProcs)
	actual := runtime.GOMAXPROCS(0)
	if r.logger != nil {
		r.logger.Info("runtime", "gomaxprocs", actual, "prev", prev, "base", baseProcs)
	}
	return actual
}

// calculateMaxConcurrency determines the maximum concurrent request handlers.
func (r *Runner) calculateMaxConcurrency(cfg *config.Config, procs int) int {
	maxConc := cfg.Server.MaxConcurrency
	if maxConc <= 0 {
		c := procs
		if c <= 0 {
			c = 1
		}
		maxConc = c * 256
		if maxConc > 2048 {
			maxConc = 2048
		}
		if maxConc < 1 {
			maxConc = 1
		}
	}
	return maxConc
}

// parseWorkDeadline parses the configured work_deadline, defaulting to 5s
// on an empty or malformed value.
func parseWorkDeadline(raw string) time.Duration {
	if raw == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// buildRegistry constructs every configured provider (ZoneFileProvider,
// ReverseIPv6Provider instances) along with their attached
// DelegationFilters, and registers them into a provider.Registry.
func (r *Runner) buildRegistry(cfg *config.Config) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	delegationsByProvider := make(map[string][]*config.DelegationConfig)
	for i := range cfg.Delegations {
		d := &cfg.Delegations[i]
		key := d.Provider
		if key == "" {
			key = "zonefile"
		}
		delegationsByProvider[key] = append(delegationsByProvider[key], d)
	}

	zoneFilter, err := r.buildDelegationFilters(delegationsByProvider["zonefile"])
	if err != nil {
		return nil, err
	}

	zoneFiles, err := r.discoverZoneFiles(cfg)
	if err != nil {
		return nil, err
	}
	if len(zoneFiles) > 0 {
		zp, err := zonefile.NewZoneFileProvider(zoneFiles, zoneFilter...)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(zp); err != nil {
			return nil, err
		}
		if r.logger != nil {
			r.logger.Info("zones enabled", "count", len(zoneFiles), "files", zoneFiles)
		}
	}

	for _, rc := range cfg.ReverseIPv6 {
		rv6Filters, err := r.buildDelegationFilters(delegationsByProvider[rc.ForwardZone])
		if err != nil {
			return nil, err
		}
		rvCfg, err := reverseIPv6ConfigFrom(rc)
		if err != nil {
			return nil, fmt.Errorf("server: reverse_ipv6 %q: %w", rc.ForwardZone, err)
		}
		rp, err := reverseipv6.New(rvCfg, rv6Filters...)
		if err != nil {
			return nil, fmt.Errorf("server: reverse_ipv6 %q: %w", rc.ForwardZone, err)
		}
		if err := registry.Register(rp); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// buildDelegationFilters converts the delegation config entries attached
// to one provider into live delegation.Filter instances.
func (r *Runner) buildDelegationFilters(cfgs []*config.DelegationConfig) ([]provider.Filter, error) {
	filters := make([]provider.Filter, 0, len(cfgs))
	for _, d := range cfgs {
		zone, err := name.Parse(d.Zone)
		if err != nil {
			return nil, fmt.Errorf("server: delegation zone %q: %w", d.Zone, err)
		}
		nameservers := make([]name.Name, 0, len(d.Nameservers))
		for _, ns := range d.Nameservers {
			n, err := name.Parse(ns)
			if err != nil {
				return nil, fmt.Errorf("server: delegation nameserver %q: %w", ns, err)
			}
			nameservers = append(nameservers, n)
		}
		glue := make(map[string][]netip.Addr, len(d.Glue))
		for ns, addrs := range d.Glue {
			parsed := make([]netip.Addr, 0, len(addrs))
			for _, a := range addrs {
				addr, err := netip.ParseAddr(a)
				if err != nil {
					return nil, fmt.Errorf("server: delegation glue address %q: %w", a, err)
				}
				parsed = append(parsed, addr)
			}
			glue[ns] = parsed
		}
		filters = append(filters, delegation.New(zone, nameservers, glue, d.TTL))
	}
	return filters, nil
}

// reverseIPv6ConfigFrom translates the YAML-facing config into
// reverseipv6.Config, parsing the prefix and nameserver names.
func reverseIPv6ConfigFrom(rc config.ReverseIPv6Config) (reverseipv6.Config, error) {
	fwd, err := name.Parse(rc.ForwardZone)
	if err != nil {
		return reverseipv6.Config{}, fmt.Errorf("forward_zone: %w", err)
	}
	prefix, err := netip.ParsePrefix(rc.Prefix)
	if err != nil {
		return reverseipv6.Config{}, fmt.Errorf("prefix: %w", err)
	}
	nameservers := make([]name.Name, 0, len(rc.Nameservers))
	for _, ns := range rc.Nameservers {
		n, err := name.Parse(ns)
		if err != nil {
			return reverseipv6.Config{}, fmt.Errorf("nameserver %q: %w", ns, err)
		}
		nameservers = append(nameservers, n)
	}
	return reverseipv6.Config{
		ForwardZone: fwd,
		Prefix:      prefix,
		Nameservers: nameservers,
		SOA: reverseipv6.SOAParams{
			MName:   rc.SOA.MName,
			RName:   rc.SOA.RName,
			Serial:  rc.SOA.Serial,
			Refresh: rc.SOA.Refresh,
			Retry:   rc.SOA.Retry,
			Expire:  rc.SOA.Expire,
			Minimum: rc.SOA.Minimum,
		},
		TTL: rc.TTL,
	}, nil
}

// logStartup logs server configuration at startup.
func (r *Runner) logStartup(cfg *config.Config, addr string, maxConc, providerCount int) {
	if r.logger != nil {
		r.logger.Info(
			"dns listening",
			"addr", addr,
			"udp", true,
			"tcp", cfg.Server.EnableTCP,
			"providers", providerCount,
			"max_concurrency", maxConc,
		)
	}
}

// discoverZoneFiles returns zone files to load, either from explicit config
// or by scanning the zones directory.
func (r *Runner) discoverZoneFiles(cfg *config.Config) ([]string, error) {
	if len(cfg.Zones.Files) > 0 {
		out := make([]string, 0, len(cfg.Zones.Files))
		for _, p := range cfg.Zones.Files {
			if p = filepath.Clean(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}

	dir := cfg.Zones.Directory
	if dir == "" {
		dir = "zones"
	}
	files, err := zonefile.DiscoverZoneFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return files, nil
}
