package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/store"
	"github.com/rickgao/session-monitor/internal/subscription"
)

// viewLine is one line of lobby/watch output.
type viewLine struct {
	subscription.View
	Value json.RawMessage `json:"value"`
}

func newLobbyCmd(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "lobby",
		Short: "Print the session list each time it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.follow(cmd.Context(), model.LobbyTopic(), cmd.OutOrStdout(), once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "exit after the first hydrated value (env: SESSION_MONITOR_ONCE)")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Print one session's state each time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.follow(cmd.Context(), model.SessionTopic(args[0]), cmd.OutOrStdout(), once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "exit after the first hydrated value (env: SESSION_MONITOR_ONCE)")
	return cmd
}

// follow activates topic and writes one JSON line per change until ctx ends.
// With once, it returns after the first view that is no longer pending.
func (a *app) follow(ctx context.Context, topic model.Topic, out io.Writer, once bool) error {
	ctrl := a.controller()

	obs, err := ctrl.Activate(ctx, topic)
	if err != nil {
		return err
	}
	defer ctrl.Deactivate()

	a.logger.Info("following", "topic", topic.String(), "ws_url", a.cfg.API.WSURL)

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-obs.Updates():
			if !ok {
				return nil
			}
			if err := enc.Encode(viewLine{View: v, Value: v.Payload()}); err != nil {
				return fmt.Errorf("write view: %w", err)
			}
			if !once || v.Status == store.StatusPending {
				continue
			}
			if v.Status == store.StatusFailed {
				return errors.New(v.HydrationError)
			}
			return nil
		}
	}
}
