package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shaban/pluginhost/script"
)

const consolePrompt = "pluginhost> "

// NewConsoleCommand creates the interactive Lua console.
func NewConsoleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Control a running host from a Lua prompt",
		Long: `Start the host and read Lua chunks line by line. The global "host"
holds the control module, e.g.

  pluginhost> id = host.add("gain")
  pluginhost> host.control(0, 0, 0.5)
  pluginhost> host.print(host.count())

Lines are read from stdin when it is not a terminal. "quit" exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd, rootOpts)
		},
	}
}

// lineReader yields input lines until io.EOF.
type lineReader interface {
	ReadLine() (string, error)
}

type scanLines struct{ s *bufio.Scanner }

func (r scanLines) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func runConsole(cmd *cobra.Command, opts *RootOptions) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	h, err := openHost(cfg, logger)
	if err != nil {
		return err
	}
	defer h.Close()

	if cfg.Driver != "none" {
		if err := h.engine.Start(); err != nil {
			return WrapExitError(ExitFailure, "failed to start engine", err)
		}
	}

	var (
		in  lineReader
		out = cmd.OutOrStdout()
	)
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		old, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to set raw mode", err)
		}
		defer term.Restore(int(f.Fd()), old)
		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{f, out}, consolePrompt)
		in, out = t, t
	} else {
		in = scanLines{bufio.NewScanner(cmd.InOrStdin())}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runner := script.New(h.engine, h.factory(), script.WithLogger(logger), script.WithOutput(out))
	session, err := runner.NewSession(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to start Lua", err)
	}
	defer session.Close()

	return consoleLoop(in, out, session)
}

func consoleLoop(in lineReader, out io.Writer, session *script.Session) error {
	for {
		line, err := in.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read input", err)
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "quit", "exit":
			return nil
		}
		if err := session.Exec(line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
