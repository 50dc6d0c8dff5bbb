package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/session-monitor/internal/database"
	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/recorder"
	"github.com/rickgao/session-monitor/internal/subscription"
	"github.com/rickgao/session-monitor/internal/view"
)

type serveOptions struct {
	bind      string
	port      int
	sessionID string
}

func newServeCmd(a *app) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the followed topic over HTTP for a browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), opts)
		},
	}

	fs := cmd.Flags()
	fs.StringVarP(&opts.bind, "bind", "b", "127.0.0.1", "address to bind to (env: SESSION_MONITOR_BIND)")
	fs.IntVarP(&opts.port, "port", "p", 0, "port to listen on, 0 uses server.port from config (env: SESSION_MONITOR_PORT)")
	fs.StringVar(&opts.sessionID, "session", "", "session to follow at startup instead of the lobby (env: SESSION_MONITOR_SESSION)")

	return cmd
}

func (a *app) serve(ctx context.Context, opts serveOptions) error {
	g, gctx := errgroup.WithContext(ctx)

	var ctrlOpts []subscription.Option
	if a.cfg.Recorder.Enabled {
		rec, closeRec, err := a.startRecorder(gctx)
		if err != nil {
			return err
		}
		defer closeRec()
		ctrlOpts = append(ctrlOpts, subscription.WithRecorder(rec))
	}

	ctrl := a.controller(ctrlOpts...)
	defer ctrl.Deactivate()

	topic := model.LobbyTopic()
	if opts.sessionID != "" {
		topic = model.SessionTopic(opts.sessionID)
	}
	if _, err := ctrl.Activate(gctx, topic); err != nil {
		return err
	}

	port := opts.port
	if port == 0 {
		port = a.cfg.Server.Port
	}
	srv := view.New(view.Config{
		Bind:           opts.bind,
		Port:           port,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
	}, ctrl, a.logger)

	g.Go(func() error {
		return srv.Serve(gctx)
	})

	a.logger.Info("monitor serving",
		"topic", topic.String(),
		"url", fmt.Sprintf("http://%s:%d/state", opts.bind, port),
		"recorder", a.cfg.Recorder.Enabled,
	)

	return g.Wait()
}

// startRecorder connects to the database, applies the schema and starts the
// batch writer. The returned func stops the writer and closes the pool.
func (a *app) startRecorder(ctx context.Context) (*recorder.Recorder, func(), error) {
	dbCfg := a.cfg.Recorder.Database
	a.logger.Info("connecting to database",
		"host", dbCfg.Host,
		"port", dbCfg.Port,
		"database", dbCfg.Name,
	)

	pool, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, nil, err
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	rec := recorder.New(recorder.Config{
		BatchSize:     a.cfg.Recorder.BatchSize,
		FlushInterval: a.cfg.Recorder.FlushInterval,
	}, pool, a.logger)
	if err := rec.Start(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	closeFn := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rec.Stop(shutdownCtx)
		pool.Close()
	}
	return rec, closeFn, nil
}
