package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaban/pluginhost"
	"github.com/shaban/pluginhost/engine/analyze"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	State  string
	Cycles int
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the engine a config or saved state describes",
		Long: `Without --state, build the engine the config describes, run
--cycles audio cycles offline and print its state. With --state, print a
state file written by "run --save".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.State, "state", "", "print a saved state instead of building an engine")
	cmd.Flags().IntVar(&opts.Cycles, "cycles", 1, "cycles to process before printing")

	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	if opts.State != "" {
		s, err := openState(opts.State)
		if err != nil {
			return err
		}
		return RenderStatus(cmd.OutOrStdout(), opts.Format, s)
	}

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	// Offline: no driver, cycles are run here.
	cfg.Driver = "none"
	cfg.Journal = ""

	h, err := openHost(cfg, newLogger(cmd.ErrOrStderr(), opts.Verbose))
	if err != nil {
		return err
	}
	defer h.Close()

	e := h.engine
	e.SetPlaying(true)
	frames := uint32(e.Layout().BufferSize)
	var tap analyze.Tap
	for i := 0; i < opts.Cycles; i++ {
		if err := e.Process(frames, pluginhost.DefaultProcess); err != nil {
			return WrapExitError(ExitFailure, "failed to process cycle", err)
		}
		tap.Add(e.LastAudio())
	}
	out := cmd.OutOrStdout()
	if err := RenderStatus(out, opts.Format, e.Snapshot()); err != nil {
		return err
	}
	if opts.Format == "text" {
		m := tap.Metrics()
		fmt.Fprintf(out, "Output:    %.1f dBFS rms, %.1f dBFS peak over %d frames\n",
			m.DBFS(), m.PeakDBFS(), m.FrameCount)
	}
	return nil
}
