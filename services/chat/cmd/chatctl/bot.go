package main

import (
	"github.com/spf13/cobra"

	"chathub/services/chat/internal/bootstrap"
)

func newBotCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Manage the summary bot identity",
	}
	setupCmd := &cobra.Command{
		Use:     "setup",
		Short:   "Ensure the bot profile exists and the bot is a member of every server",
		Args:    cobra.NoArgs,
		Example: "  chatctl bot setup --config /etc/chat/config.yaml",
		RunE: func(c *cobra.Command, _ []string) error {
			return root.withRuntime(c.Context(), func(rt *bootstrap.Runtime) error {
				results, err := rt.App.SetupAllServers(c.Context())
				if err != nil {
					return err
				}
				return printJSON(c.OutOrStdout(), results)
			})
		},
	}
	cmd.AddCommand(setupCmd)
	return cmd
}
