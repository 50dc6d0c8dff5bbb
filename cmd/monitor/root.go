package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rickgao/session-monitor/internal/api"
	"github.com/rickgao/session-monitor/internal/config"
	"github.com/rickgao/session-monitor/internal/connection"
	"github.com/rickgao/session-monitor/internal/hydrate"
	"github.com/rickgao/session-monitor/internal/subscription"
	"github.com/rickgao/session-monitor/internal/version"
)

const envPrefix = "SESSION_MONITOR"

// app carries what every subcommand needs once flags are resolved.
type app struct {
	cfg    *config.MonitorConfig
	logger *slog.Logger
}

type rootOptions struct {
	configPath string
	restURL    string
	wsURL      string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	a := &app{}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "monitor",
		Short:   "Follow a session or the session lobby of a game server",
		Version: version.String(),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd, opts)
		},
	}

	fs := cmd.PersistentFlags()
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file (env: SESSION_MONITOR_CONFIG)")
	fs.StringVar(&opts.restURL, "rest-url", "", "session server base URL (env: SESSION_MONITOR_REST_URL)")
	fs.StringVar(&opts.wsURL, "ws-url", "", "push channel base URL, derived from the REST URL when empty (env: SESSION_MONITOR_WS_URL)")
	fs.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (env: SESSION_MONITOR_LOG_LEVEL)")
	fs.StringVar(&opts.logFormat, "log-format", "", "text or json (env: SESSION_MONITOR_LOG_FORMAT)")
	bindEnv(v, fs)

	for _, sub := range []*cobra.Command{
		newLobbyCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newCreateCmd(a),
		newActCmd(a),
		newVersionCmd(),
	} {
		bindEnv(v, sub.Flags())
		cmd.AddCommand(sub)
	}

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("monitor {{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// bindEnv lets SESSION_MONITOR_<FLAG> fill any flag not set on the command
// line.
func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// init loads the config file and layers flag overrides on top.
func (a *app) init(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := config.LoadWithDefaults(opts.configPath)
	if err != nil {
		return err
	}

	if opts.restURL != "" {
		derived := cfg.API.WSURL == config.DeriveWSURL(cfg.API.RestURL)
		cfg.API.RestURL = strings.TrimRight(opts.restURL, "/")
		if derived {
			cfg.API.WSURL = config.DeriveWSURL(cfg.API.RestURL)
		}
	}
	if opts.wsURL != "" {
		cfg.API.WSURL = strings.TrimRight(opts.wsURL, "/")
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func (a *app) apiClient() *api.Client {
	return api.NewClient(a.cfg.API.RestURL,
		api.WithLogger(a.logger),
		api.WithTimeout(a.cfg.API.Timeout),
		api.WithRetries(a.cfg.API.MaxRetries, time.Second),
	)
}

// controller wires hydration and the push channel for one process.
func (a *app) controller(opts ...subscription.Option) *subscription.Controller {
	ch := a.cfg.Channel

	rc := connection.DefaultReconnectConfig()
	rc.WSURL = a.cfg.API.WSURL
	rc.BaseDelay = ch.ReconnectBaseDelay
	rc.MaxDelay = ch.ReconnectMaxDelay
	rc.Client.PingInterval = ch.PingInterval
	rc.Client.ReadTimeout = ch.ReadTimeout
	rc.Client.BufferSize = ch.BufferSize

	fetcher := hydrate.NewFetcher(a.apiClient(), a.logger)
	channel := connection.NewReconnecting(rc, a.logger)

	return subscription.NewController(subscription.Config{
		ResyncInterval: a.cfg.Subscription.ResyncInterval,
		FetchTimeout:   a.cfg.API.Timeout,
	}, fetcher, channel, a.logger, opts...)
}
