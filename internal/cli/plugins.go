package cli

import (
	"github.com/spf13/cobra"

	"github.com/shaban/pluginhost/plugins"
)

// NewPluginsCommand creates the plugins command.
func NewPluginsCommand(rootOpts *RootOptions) *cobra.Command {
	var category, name string

	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List the plugins the host can load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := plugins.List()
			if category != "" {
				infos = infos.ByCategory(category)
			}
			if name != "" {
				infos = infos.ByName(name)
			}
			return RenderPlugins(cmd.OutOrStdout(), rootOpts.Format, infos)
		},
	}

	cmd.Flags().StringVar(&category, "category", "", "only plugins of this category")
	cmd.Flags().StringVar(&name, "name", "", "only plugins whose name contains this")

	return cmd
}
