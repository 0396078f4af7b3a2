package cli

import (
	"github.com/spf13/cobra"

	"github.com/shaban/pluginhost"
	"github.com/shaban/pluginhost/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Path      string
	Limit     int
	Engine    string
	Operation string
	Failed    bool
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recorded structural operations",
		Long: `List plugin adds, removals, switches and driver starts/stops
recorded by a host that ran with a journal, newest first.

Example:
  pluginhost journal --db host.db --failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Path, "db", "", "journal database (defaults to the config's journal)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().StringVar(&opts.Engine, "engine", "", "only entries of this engine name")
	cmd.Flags().StringVar(&opts.Operation, "op", "", "only this operation (add_plugin, remove_plugin, ...)")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed operations")

	return cmd
}

func runJournal(cmd *cobra.Command, opts *JournalOptions) error {
	path := opts.Path
	if path == "" {
		cfg, err := loadConfig(opts.Config)
		if err != nil {
			return err
		}
		path = cfg.Journal
	}
	if path == "" {
		return WrapExitError(ExitCommandError, "no journal configured", nil)
	}

	st, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	entries, err := st.Recent(cmd.Context(), opts.Limit, journal.Filter{
		Engine:     opts.Engine,
		Operation:  pluginhost.OperationType(opts.Operation),
		FailedOnly: opts.Failed,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read journal", err)
	}
	return RenderJournal(cmd.OutOrStdout(), opts.Format, entries)
}
