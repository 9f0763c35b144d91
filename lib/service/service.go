// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package service orchestrates everything required to publish a local
// site as a Tor hidden service: configuration validation, torrc and
// nginx stanza generation, hidden-service directory permissions,
// process supervision, and bootstrap monitoring.
//
// The orchestrator is strictly ordered: all validation happens before
// the first side effect, config files are written before anything is
// launched, and the web server must be reachable on loopback before
// the relay is pointed at it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/onionhost-foundation/onionhost/lib/bootstrap"
	"github.com/onionhost-foundation/onionhost/lib/clock"
	"github.com/onionhost-foundation/onionhost/lib/config"
	"github.com/onionhost-foundation/onionhost/lib/history"
	"github.com/onionhost-foundation/onionhost/lib/hsdir"
	"github.com/onionhost-foundation/onionhost/lib/netcheck"
	"github.com/onionhost-foundation/onionhost/lib/platform"
	"github.com/onionhost-foundation/onionhost/lib/supervisor"
	"github.com/onionhost-foundation/onionhost/lib/torrc"
	"github.com/onionhost-foundation/onionhost/lib/webserver"
)

// HiddenServiceName is the directory created under the platform's
// hidden-service base for this engine's service.
const HiddenServiceName = "onionhost"

// DefaultReadyTimeout bounds the loopback probe that confirms nginx
// came up before the relay is launched against it.
const DefaultReadyTimeout = 15 * time.Second

// hostnameSettle bounds how long Start waits for tor to materialize
// the hostname file after bootstrap reports Live.
const hostnameSettle = 5 * time.Second

// Options configures an Engine. ConfigPath and Profile are required.
type Options struct {
	// ConfigPath is the service configuration file.
	ConfigPath string

	// Profile is the resolved platform profile.
	Profile platform.Profile

	// StateDir holds PID records and the event log. Empty defers to
	// the config file's state_dir, then to a "state" directory next to
	// the config file.
	StateDir string

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to discard.
	Logger *slog.Logger

	// BootstrapTimeout defaults to bootstrap.DefaultTimeout.
	BootstrapTimeout time.Duration

	// ReadyTimeout defaults to DefaultReadyTimeout.
	ReadyTimeout time.Duration

	// Grace is the SIGTERM grace period for Stop. Zero uses the
	// supervisor default.
	Grace time.Duration
}

// Engine is the service orchestrator. One Engine manages one hidden
// service. Safe for concurrent use, though operations serialize.
type Engine struct {
	configPath string
	profile    platform.Profile
	stateDir   string
	clk        clock.Clock
	logger     *slog.Logger

	bootstrapTimeout time.Duration
	readyTimeout     time.Duration
	grace            time.Duration

	supervisor *supervisor.Supervisor
	events     *history.Log

	mu      sync.Mutex
	monitor *bootstrap.Monitor
}

// New builds an Engine and opens its event log.
func New(opts Options) (*Engine, error) {
	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("service: ConfigPath is required")
	}

	stateDir := opts.StateDir
	if stateDir == "" {
		// Best effort: a malformed config surfaces when the first
		// operation loads it, not here.
		if cfg, err := config.Load(opts.ConfigPath); err == nil {
			stateDir = cfg.StateDir
		}
	}
	if stateDir == "" {
		stateDir = filepath.Join(filepath.Dir(opts.ConfigPath), "state")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	bootstrapTimeout := opts.BootstrapTimeout
	if bootstrapTimeout == 0 {
		bootstrapTimeout = bootstrap.DefaultTimeout
	}
	readyTimeout := opts.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = DefaultReadyTimeout
	}

	events, err := history.Open(filepath.Join(stateDir, "events.db"), logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		configPath:       opts.ConfigPath,
		profile:          opts.Profile,
		stateDir:         stateDir,
		clk:              clk,
		logger:           logger,
		bootstrapTimeout: bootstrapTimeout,
		readyTimeout:     readyTimeout,
		grace:            opts.Grace,
		supervisor:       supervisor.New(stateDir, clk, logger),
		events:           events,
	}, nil
}

// Close releases the event log. It does not stop managed processes;
// they are meant to outlive the command that started them.
func (e *Engine) Close() error {
	return e.events.Close()
}

// torrcPath returns the torrc the engine edits, honoring the config
// override.
func (e *Engine) torrcPath(cfg *config.Config) string {
	if cfg.TorrcPath != "" {
		return cfg.TorrcPath
	}
	return e.profile.TorrcPath
}

// hiddenServiceDir returns the directory tor keeps this service's key
// material and hostname in, honoring the config override.
func (e *Engine) hiddenServiceDir(cfg *config.Config) string {
	if cfg.HiddenServiceDir != "" {
		return cfg.HiddenServiceDir
	}
	return filepath.Join(e.profile.HiddenServiceBase, HiddenServiceName)
}

// StartResult reports what Start accomplished.
type StartResult struct {
	// OnionAddress is the published .onion hostname.
	OnionAddress string

	// AlreadyRunning is true when the relay was found alive and
	// matching; no new process was spawned.
	AlreadyRunning bool

	// Bootstrap is the final monitor state. Zero for AlreadyRunning.
	Bootstrap bootstrap.State
}

// Start validates, writes configuration, launches the managed
// processes, and watches bootstrap until the service is Live. progress
// may be nil. On bootstrap timeout the relay is left running and the
// returned error unwraps to *bootstrap.TimeoutError; Watch can
// re-attach to the ongoing attempt.
func (e *Engine) Start(ctx context.Context, progress bootstrap.ProgressFunc) (*StartResult, error) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, &ValidationError{Reason: "loading configuration", Err: err}
	}

	// All validation precedes the first side effect.
	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Reason: "configuration", Err: err}
	}
	if cfg.Method == config.FileServing {
		if err := webserver.CheckSiteDirectory(cfg.SiteDir); err != nil {
			return nil, &ValidationError{Reason: "site directory", Err: err}
		}
	}
	if err := e.checkBinaries(cfg); err != nil {
		return nil, err
	}
	if e.profile.Warning != "" {
		e.logger.Warn("platform fallback in use", "warning", e.profile.Warning)
	}

	hsDir := e.hiddenServiceDir(cfg)
	torrcPath := e.torrcPath(cfg)

	if err := hsdir.Enforce(hsDir, e.profile.TorUser, e.profile.TorGroup); err != nil {
		return nil, &PermissionError{Path: hsDir, Err: err}
	}
	if err := torrc.Ensure(torrcPath, torrc.Stanza{
		HiddenServiceDir: hsDir,
		TargetPort:       cfg.TargetPort(),
	}); err != nil {
		return nil, &ConfigWriteError{Path: torrcPath, Err: err}
	}

	if cfg.Method == config.FileServing {
		if err := e.startWebserver(cfg); err != nil {
			e.recordFailure(ctx, cfg, err)
			return nil, err
		}
	}

	relayArgv := append(append([]string{}, e.profile.TorInvocation...), "-f", torrcPath)
	handle, alreadyRunning, err := e.supervisor.Launch(supervisor.RoleRelay, relayArgv, supervisor.LaunchOptions{
		DedupeCmdline: torrcPath,
	})
	if err != nil {
		startErr := &ProcessStartError{Role: string(supervisor.RoleRelay), Err: err}
		e.recordFailure(ctx, cfg, startErr)
		return nil, startErr
	}

	if alreadyRunning || handle.Output == nil {
		// Relay predates this command; it is presumed bootstrapped.
		address, err := e.readHostname(hsDir)
		if err != nil {
			return nil, err
		}
		e.persistAddress(cfg, address)
		return &StartResult{OnionAddress: address, AlreadyRunning: true}, nil
	}

	monitor := bootstrap.New(e.clk, e.logger, e.bootstrapTimeout)
	e.mu.Lock()
	e.monitor = monitor
	e.mu.Unlock()

	return e.watchBootstrap(ctx, cfg, monitor, handle, progress)
}

// watchBootstrap runs one monitor pass over the relay's output and
// finishes the start on success.
func (e *Engine) watchBootstrap(ctx context.Context, cfg *config.Config, monitor *bootstrap.Monitor, handle *supervisor.Handle, progress bootstrap.ProgressFunc) (*StartResult, error) {
	state, err := monitor.Watch(ctx, handle.Output, progress)
	if err != nil {
		var timeout *bootstrap.TimeoutError
		if errors.As(err, &timeout) {
			// The relay keeps bootstrapping; only the watch ended.
			e.appendEvent(ctx, cfg, history.TimedOut, err.Error())
			return nil, fmt.Errorf("bootstrap did not complete (relay left running, retry with watch): %w", err)
		}
		e.recordFailure(ctx, cfg, err)
		return nil, err
	}

	hsDir := e.hiddenServiceDir(cfg)
	address, err := e.readHostname(hsDir)
	if err != nil {
		e.recordFailure(ctx, cfg, err)
		return nil, err
	}

	e.persistAddress(cfg, address)
	e.appendEvent(ctx, cfg, history.Started, "")
	e.logger.Info("hidden service live", "address", address, "method", string(cfg.Method))
	return &StartResult{OnionAddress: address, Bootstrap: state}, nil
}

// Watch re-attaches to a bootstrap attempt that is still in flight
// after a Start timed out. It resumes the same monitor with a fresh
// timeout, so progress stays monotonic across attempts.
func (e *Engine) Watch(ctx context.Context, progress bootstrap.ProgressFunc) (*StartResult, error) {
	e.mu.Lock()
	monitor := e.monitor
	e.mu.Unlock()

	handle, ok := e.supervisor.Handle(supervisor.RoleRelay)
	if monitor == nil || !ok || handle.Output == nil {
		return nil, fmt.Errorf("no relay output attached; watch only works in the process that started the relay")
	}

	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, &ValidationError{Reason: "loading configuration", Err: err}
	}
	return e.watchBootstrap(ctx, cfg, monitor, handle, progress)
}

// startWebserver writes the vhost fragment, launches nginx, and waits
// for the listen port to accept loopback connections.
func (e *Engine) startWebserver(cfg *config.Config) error {
	fragment := webserver.Fragment{
		ListenPort: cfg.ListenPort,
		SiteDir:    cfg.SiteDir,
		ErrorLog:   filepath.Join(e.stateDir, "nginx-error.log"),
	}
	if err := webserver.WriteFragment(e.profile.NginxAvailableDir, e.profile.NginxEnabledDir, fragment); err != nil {
		return &ConfigWriteError{
			Path: filepath.Join(e.profile.NginxAvailableDir, webserver.FragmentName),
			Err:  err,
		}
	}

	_, _, err := e.supervisor.Launch(supervisor.RoleWebserver, e.profile.NginxInvocation, supervisor.LaunchOptions{})
	if err != nil {
		return &ProcessStartError{Role: string(supervisor.RoleWebserver), Err: err}
	}

	if err := netcheck.WaitReachable(e.clk, cfg.ListenPort, e.readyTimeout); err != nil {
		return &ProcessStartError{Role: string(supervisor.RoleWebserver), Err: err}
	}
	return nil
}

// checkBinaries verifies the external executables the chosen method
// needs are present before anything is written or launched.
func (e *Engine) checkBinaries(cfg *config.Config) error {
	torBinary := e.profile.TorInvocation[len(e.profile.TorInvocation)-1]
	if _, err := exec.LookPath(torBinary); err != nil {
		return &ValidationError{Reason: "tor is not installed", Err: err}
	}
	if cfg.Method == config.FileServing {
		if _, err := exec.LookPath(e.profile.NginxInvocation[0]); err != nil {
			return &ValidationError{Reason: "nginx is not installed", Err: err}
		}
	}
	return nil
}

// StopOptions tunes Stop.
type StopOptions struct {
	// AllowScan enables the supervisor's process-table fallback for a
	// relay whose PID record is gone.
	AllowScan bool
}

// Stop terminates the managed processes. Idempotent: stopping a
// stopped service succeeds. Partial failure stops what it can and
// returns the joined errors.
func (e *Engine) Stop(ctx context.Context, opts StopOptions) error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return &ValidationError{Reason: "loading configuration", Err: err}
	}

	relayErr := e.supervisor.Terminate(supervisor.RoleRelay, supervisor.TerminateOptions{
		Grace:       e.grace,
		AllowScan:   opts.AllowScan,
		ScanCmdline: e.torrcPath(cfg),
	})
	webErr := e.supervisor.Terminate(supervisor.RoleWebserver, supervisor.TerminateOptions{
		Grace: e.grace,
	})

	e.mu.Lock()
	e.monitor = nil
	e.mu.Unlock()

	if err := errors.Join(relayErr, webErr); err != nil {
		return fmt.Errorf("stopping service: %w", err)
	}

	cfg.Running = false
	if err := cfg.Save(e.configPath); err != nil {
		return err
	}
	e.appendEvent(ctx, cfg, history.Stopped, "")
	e.logger.Info("hidden service stopped")
	return nil
}

// Restart is Stop followed by Start.
func (e *Engine) Restart(ctx context.Context, progress bootstrap.ProgressFunc) (*StartResult, error) {
	if err := e.Stop(ctx, StopOptions{}); err != nil {
		return nil, err
	}
	return e.Start(ctx, progress)
}

// Status is a point-in-time view of the service.
type Status struct {
	Method       config.Method
	TargetPort   int
	OnionAddress string

	RelayRunning     bool
	RelayPID         int
	WebserverRunning bool
	WebserverPID     int

	// TorrcManaged reports whether the torrc currently carries the
	// managed hidden-service stanza; Stanza is its parsed content.
	TorrcManaged bool
	Stanza       torrc.Stanza

	// Bootstrap is the live monitor state when a watch is attached in
	// this process; zero otherwise.
	Bootstrap bootstrap.State

	// TorInstalled and NginxInstalled report binary presence on PATH.
	TorInstalled   bool
	NginxInstalled bool

	// PlatformWarning is set when the engine runs on the fallback
	// profile.
	PlatformWarning string
}

// Status inspects configuration, process liveness, and binary
// presence. It never fails on a missing config file; first-run status
// reports defaults.
func (e *Engine) Status() (*Status, error) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, err
	}

	status := &Status{
		Method:          cfg.Method,
		TargetPort:      cfg.TargetPort(),
		OnionAddress:    cfg.OnionAddress,
		PlatformWarning: e.profile.Warning,
	}
	status.RelayRunning, status.RelayPID = e.supervisor.Status(supervisor.RoleRelay)
	status.WebserverRunning, status.WebserverPID = e.supervisor.Status(supervisor.RoleWebserver)

	if stanza, ok, err := torrc.CurrentStanza(e.torrcPath(cfg)); err == nil && ok {
		status.TorrcManaged = true
		status.Stanza = stanza
	}

	torBinary := e.profile.TorInvocation[len(e.profile.TorInvocation)-1]
	_, err = exec.LookPath(torBinary)
	status.TorInstalled = err == nil
	_, err = exec.LookPath(e.profile.NginxInvocation[0])
	status.NginxInstalled = err == nil

	e.mu.Lock()
	if e.monitor != nil {
		status.Bootstrap = e.monitor.Snapshot()
	}
	e.mu.Unlock()

	return status, nil
}

// Address returns the service's .onion hostname: the live hostname
// file when the relay is running, else the last persisted address.
func (e *Engine) Address() (string, error) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return "", err
	}

	if running, _ := e.supervisor.Status(supervisor.RoleRelay); running {
		if address, err := e.readHostname(e.hiddenServiceDir(cfg)); err == nil {
			return address, nil
		}
	}
	if cfg.OnionAddress != "" {
		return cfg.OnionAddress, nil
	}
	return "", fmt.Errorf("no onion address recorded; start the service first")
}

// History returns the most recent lifecycle events, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]history.Event, error) {
	return e.events.Recent(ctx, limit)
}

// readHostname reads the hidden service's hostname file, retrying
// briefly because tor writes it shortly after reporting Live.
func (e *Engine) readHostname(hsDir string) (string, error) {
	path := filepath.Join(hsDir, "hostname")
	deadline := e.clk.Now().Add(hostnameSettle)

	for {
		data, err := os.ReadFile(path)
		if err == nil {
			if address := strings.TrimSpace(string(data)); address != "" {
				return address, nil
			}
		}
		if !e.clk.Now().Before(deadline) {
			if err != nil {
				return "", fmt.Errorf("reading onion hostname: %w", err)
			}
			return "", fmt.Errorf("onion hostname file %s is empty", path)
		}
		e.clk.Sleep(100 * time.Millisecond)
	}
}

// persistAddress saves the published address and running flag. Save
// failures are logged, not fatal: the service is live either way.
func (e *Engine) persistAddress(cfg *config.Config, address string) {
	cfg.OnionAddress = address
	cfg.Running = true
	if err := cfg.Save(e.configPath); err != nil {
		e.logger.Error("persisting onion address", "error", err)
	}
}

// recordFailure appends a failure event; best effort.
func (e *Engine) recordFailure(ctx context.Context, cfg *config.Config, cause error) {
	e.appendEvent(ctx, cfg, history.Failed, cause.Error())
}

func (e *Engine) appendEvent(ctx context.Context, cfg *config.Config, kind history.Kind, detail string) {
	event := history.Event{
		Kind:         kind,
		Method:       string(cfg.Method),
		TargetPort:   cfg.TargetPort(),
		OnionAddress: cfg.OnionAddress,
		Detail:       detail,
	}
	if err := e.events.Append(ctx, event); err != nil {
		e.logger.Error("appending history event", "kind", string(kind), "error", err)
	}
}
