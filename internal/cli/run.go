package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shaban/pluginhost"
	"github.com/shaban/pluginhost/driver/midiin"
	"github.com/shaban/pluginhost/script"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Duration       time.Duration
	Script         string
	Load           string
	Save           string
	StatusInterval time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host and process audio until interrupted",
		Long: `Start the plugin host with the configured driver and plugins.

The host runs until SIGINT/SIGTERM or until --duration elapses. A Lua
script given by --script or the config runs once the driver is started.

Example:
  pluginhost run -c rack.yaml
  pluginhost run --script setup.lua --duration 10s --save state.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&opts.Script, "script", "", "Lua script to run after start (overrides config)")
	cmd.Flags().StringVar(&opts.Load, "load", "", "restore plugins and transport from a saved state")
	cmd.Flags().StringVar(&opts.Save, "save", "", "write the final state to this file (YAML)")
	cmd.Flags().DurationVar(&opts.StatusInterval, "status-interval", 0, "log engine status at this interval")

	return cmd
}

func runHost(cmd *cobra.Command, opts *RunOptions) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	if opts.Script != "" {
		cfg.Script = opts.Script
	}

	h, err := openHost(cfg, logger)
	if err != nil {
		return err
	}
	defer h.Close()
	e := h.engine

	if opts.Load != "" {
		s, err := openState(opts.Load)
		if err != nil {
			return err
		}
		if err := e.Restore(s, h.factory()); err != nil {
			return WrapExitError(ExitFailure, "failed to restore state", err)
		}
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	if cfg.Driver != "none" {
		if err := e.Start(); err != nil {
			return WrapExitError(ExitFailure, "failed to start engine", err)
		}
	}
	e.SetPlaying(true)
	logger.Info("host running", "name", e.Name(), "driver", cfg.Driver, "plugins", e.PluginCount())

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MIDI {
		in, err := midiin.Open(midiin.Config{DeviceID: cfg.MIDIDevice, Logger: logger}, e)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to open MIDI input", err)
		}
		defer in.Close()
		g.Go(func() error { return in.Run(gctx) })
	}

	if cfg.Script != "" {
		runner := script.New(e, h.factory(), script.WithLogger(logger), script.WithOutput(cmd.OutOrStdout()))
		g.Go(func() error { return runner.RunFile(gctx, cfg.Script) })
	}

	if opts.StatusInterval > 0 {
		g.Go(func() error {
			t := time.NewTicker(opts.StatusInterval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					ti := e.TimeInfo()
					logger.Info("status", "cycles", e.Cycles(), "frame", ti.Frame,
						"plugins", e.PluginCount(), "panics", e.Panics(), "errors", h.Errors())
				}
			}
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	// Errors caused by the shutdown itself are not failures.
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "host failed", err)
	}
	logger.Info("host stopping", "cycles", e.Cycles(), "errors", h.Errors())

	if err := e.Stop(); err != nil {
		return WrapExitError(ExitFailure, "failed to stop engine", err)
	}
	if opts.Save != "" {
		if err := saveState(opts.Save, e.Snapshot()); err != nil {
			return err
		}
	}
	return nil
}

func saveState(path string, s pluginhost.State) error {
	f, err := os.Create(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create state file", err)
	}
	if err := s.WriteYAML(f); err != nil {
		f.Close()
		return WrapExitError(ExitFailure, "failed to write state", err)
	}
	if err := f.Close(); err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("failed to close %s", path), err)
	}
	return nil
}
