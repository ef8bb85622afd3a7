package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"finetune/internal/capture"
	"finetune/internal/config"
	"finetune/internal/engine"
	"finetune/internal/settings"
)

// processPollInterval is how often the running app re-enumerates audio
// processes and reconciles tap lifetimes.
const processPollInterval = 2 * time.Second

// App wires the engine, settings store, and host together for one
// process lifetime. Keep this struct thin; it delegates to the engine
// for every mutation.
type App struct {
	log    *log.Logger
	flags  config.Flags
	store  *settings.Store
	host   capture.Host
	engine *engine.Engine
}

// NewApp builds the app over an explicit host and settings path. Tests
// pass a fake host; the CLI passes its PortAudio-backed host and the
// settings location.
func NewApp(host capture.Host, settingsPath string, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	flags, err := config.Load(filepath.Dir(settingsPath))
	if err != nil {
		return nil, fmt.Errorf("load feature flags: %w", err)
	}
	store := settings.Open(settingsPath, logger)
	return &App{
		log:    logger,
		flags:  flags,
		store:  store,
		host:   host,
		engine: engine.New(host, store, flags, logger),
	}, nil
}

// Store exposes the settings store.
func (a *App) Store() *settings.Store { return a.store }

// Engine exposes the engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Run starts the engine, restores persisted state, and reconciles the
// process list until ctx is cancelled. Settings are flushed synchronously
// on the way out.
func (a *App) Run(ctx context.Context) error {
	a.engine.Start()
	defer a.engine.Stop()

	procs, err := a.host.Processes()
	if err != nil {
		a.log.Warn("process enumeration failed", "err", err)
	}
	a.engine.HandleActiveProcessesChanged(procs)

	ticker := time.NewTicker(processPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			procs, err := a.host.Processes()
			if err != nil {
				a.log.Warn("process enumeration failed", "err", err)
				continue
			}
			a.engine.HandleActiveProcessesChanged(procs)
		}
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-ch:
			log.Info("shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
