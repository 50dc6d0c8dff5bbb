package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/version"
)

func newCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <player>...",
		Short: "Create a session for the given players",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.apiClient().CreateSession(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
		},
	}
}

func newActCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "act <session-id> <type> [target]",
		Short: "Submit an action to a session and print the resulting state",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := model.Action{Type: args[1]}
			if len(args) == 3 {
				action.Target = args[2]
			}

			state, err := a.apiClient().ApplyAction(cmd.Context(), args[0], action)
			if err != nil {
				return fmt.Errorf("apply action: %w", err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(state)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// No config is needed to print the version.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "monitor", version.String())
			return err
		},
	}
}
