package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaban/pluginhost"
	"github.com/shaban/pluginhost/plugins"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the host ran but an operation failed
	ExitCommandError = 2 // bad flags, unreadable config, missing files
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// encode writes v as JSON or YAML. It reports false for the text format.
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// RenderStatus writes an engine state in the given format.
func RenderStatus(w io.Writer, format string, s pluginhost.State) error {
	switch format {
	case "json":
		return s.WriteJSON(w)
	case "yaml":
		return s.WriteYAML(w)
	}

	state := "stopped"
	switch {
	case !s.Initialized:
		state = "closed"
	case s.Running:
		state = "running"
	}
	transport := "paused"
	if s.Time.Playing {
		transport = "playing"
	}

	fmt.Fprintf(w, "Engine:    %s (%s)\n", s.Name, state)
	fmt.Fprintf(w, "Mode:      %s, %s transport\n", s.ProcessMode, s.TransportMode)
	fmt.Fprintf(w, "Audio:     %.0f Hz, %d frames\n", s.SampleRate, s.BufferSize)
	fmt.Fprintf(w, "Transport: %s at frame %d\n", transport, s.Time.Frame)
	fmt.Fprintf(w, "Cycles:    %d\n", s.Cycles)
	fmt.Fprintf(w, "Plugins:   %d of %d\n", len(s.Plugins), s.MaxPlugins)
	if len(s.Plugins) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  SLOT\tNAME\tIN L/R\tOUT L/R")
	for _, p := range s.Plugins {
		fmt.Fprintf(tw, "  %d\t%s\t%.2f/%.2f\t%.2f/%.2f\n",
			p.Slot, p.Name, p.InPeaks[0], p.InPeaks[1], p.OutPeaks[0], p.OutPeaks[1])
	}
	return tw.Flush()
}

// RenderPlugins writes the plugin catalog.
func RenderPlugins(w io.Writer, format string, infos plugins.PluginInfos) error {
	if ok, err := encode(w, format, infos); ok {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tPARAMETERS\tDESCRIPTION")
	for _, info := range infos {
		params := make([]string, len(info.Parameters))
		for i, p := range info.Parameters {
			params[i] = p.Identifier
		}
		list := strings.Join(params, ",")
		if list == "" {
			list = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.Name, info.Category, list, info.Description)
	}
	return tw.Flush()
}

// RenderJournal writes journal entries, newest first.
func RenderJournal(w io.Writer, format string, entries []pluginhost.JournalEntry) error {
	if entries == nil {
		entries = []pluginhost.JournalEntry{}
	}
	if ok, err := encode(w, format, entries); ok {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tENGINE\tOPERATION\tTARGET\tDURATION\tRESULT")
	for _, e := range entries {
		target := "-"
		switch e.Operation {
		case pluginhost.OpAddPlugin, pluginhost.OpRemovePlugin:
			target = fmt.Sprintf("%d %s", e.PluginID, e.Plugin)
		case pluginhost.OpSwitchPlugins:
			target = fmt.Sprintf("%d<->%d", e.PluginID, e.Value)
		}
		result := "ok"
		if e.Error != "" {
			result = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Format(time.RFC3339), e.Engine, e.Operation, strings.TrimSpace(target),
			e.Duration.Round(time.Microsecond), result)
	}
	return tw.Flush()
}
