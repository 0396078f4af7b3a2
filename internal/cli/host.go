package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/shaban/pluginhost"
	"github.com/shaban/pluginhost/driver"
	"github.com/shaban/pluginhost/engine/setup"
	"github.com/shaban/pluginhost/journal"
	"github.com/shaban/pluginhost/plugins"
)

// host is an initialized engine plus the resources the config asked for.
type host struct {
	cfg     pluginhost.FileConfig
	logger  *slog.Logger
	engine  *pluginhost.Engine
	journal *journal.Store

	// errors counts what the engine reported through its error handler.
	errors atomic.Int64
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadConfig(path string) (pluginhost.FileConfig, error) {
	if path == "" {
		return pluginhost.DefaultFileConfig(), nil
	}
	cfg, err := pluginhost.LoadConfig(path)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

func newDriver(name string, layout setup.Layout) pluginhost.Driver {
	cfg := driver.Config{
		SampleRate: layout.SampleRate,
		BufferSize: layout.BufferSize,
		Channels:   pluginhost.AudioChannels,
	}
	switch name {
	case "oto":
		return driver.NewOto(cfg)
	case "ticker", "":
		return driver.NewTicker(cfg)
	}
	return nil
}

// pluginFactory builds catalog plugins at the configured sample rate.
func pluginFactory(sampleRate float64) pluginhost.PluginFactory {
	return func(name string) (pluginhost.Plugin, error) {
		return plugins.New(name, sampleRate)
	}
}

// openHost builds, initializes and populates an engine from cfg. The
// returned host must be closed.
func openHost(cfg pluginhost.FileConfig, logger *slog.Logger) (*host, error) {
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}
	ecfg.Logger = logger
	layout := setup.Resolve(ecfg.Options)

	h := &host{cfg: cfg, logger: logger}
	opts := []pluginhost.EngineOption{
		pluginhost.WithErrorHandler(pluginhost.NewLoggingErrorHandler(
			&pluginhost.DefaultErrorHandler{Logger: logger},
			func(error) { h.errors.Add(1) },
		)),
	}
	if d := newDriver(cfg.Driver, layout); d != nil {
		opts = append(opts, pluginhost.WithDriver(d))
	}
	if cfg.Journal != "" {
		h.journal, err = journal.Open(cfg.Journal)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		opts = append(opts, pluginhost.WithJournal(h.journal))
	}

	h.engine, err = pluginhost.NewEngine(ecfg, opts...)
	if err != nil {
		h.closeJournal()
		return nil, WrapExitError(ExitCommandError, "invalid engine config", err)
	}
	if err := h.engine.Init(cfg.Name); err != nil {
		h.closeJournal()
		return nil, WrapExitError(ExitFailure, "failed to initialize engine", err)
	}

	factory := pluginFactory(layout.SampleRate)
	for _, name := range cfg.Plugins {
		p, err := factory(name)
		if err != nil {
			h.Close()
			return nil, WrapExitError(ExitCommandError, "invalid plugin list", err)
		}
		if _, err := h.engine.AddPlugin(p); err != nil {
			_ = p.Close()
			h.Close()
			return nil, WrapExitError(ExitFailure, fmt.Sprintf("failed to add plugin %q", name), err)
		}
	}
	return h, nil
}

// Errors returns how many errors the engine reported.
func (h *host) Errors() int64 { return h.errors.Load() }

func (h *host) factory() pluginhost.PluginFactory {
	return pluginFactory(h.engine.Layout().SampleRate)
}

// Close stops the engine, disposes its plugins and closes the journal.
func (h *host) Close() {
	if err := h.engine.Stop(); err != nil {
		h.logger.Warn("stopping engine", "error", err)
	}
	if err := h.engine.RemoveAllPlugins(); err != nil {
		h.logger.Warn("removing plugins", "error", err)
	}
	if err := h.engine.Close(); err != nil {
		h.logger.Error("closing engine", "error", err)
	}
	h.closeJournal()
}

func (h *host) closeJournal() {
	if h.journal == nil {
		return
	}
	if err := h.journal.Close(); err != nil {
		h.logger.Error("closing journal", "error", err)
	}
}

func openState(path string) (pluginhost.State, error) {
	f, err := os.Open(path)
	if err != nil {
		return pluginhost.State{}, WrapExitError(ExitCommandError, "failed to open state", err)
	}
	defer f.Close()
	s, err := pluginhost.ReadState(f)
	if err != nil {
		return s, WrapExitError(ExitCommandError, "failed to read state", err)
	}
	return s, nil
}
