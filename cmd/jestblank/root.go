// cmd/jestblank/root.go
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jason-s-yu/jestblank/internal/auth"
	"github.com/jason-s-yu/jestblank/internal/client"
	"github.com/jason-s-yu/jestblank/internal/config"
	"github.com/jason-s-yu/jestblank/internal/gateway"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flags are the options shared by every subcommand. Unset flags leave the
// environment and config file values alone.
type flags struct {
	configPath string
	store      string
	feed       string
	debug      bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	v := viper.New()
	v.SetEnvPrefix("JESTBLANK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "jestblank",
		Short:   "Fill-in-the-blank prompt and vote party game.",
		Version: releaseVersion,
	}

	fs := cmd.PersistentFlags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVarP(&f.configPath, "config", "c", "", "YAML config file overriding the environment (env: JESTBLANK_CONFIG)")
	fs.StringVar(&f.store, "store", "", "document store backend: memory or postgres (env: JESTBLANK_STORE)")
	fs.StringVar(&f.feed, "feed", "", "change feed backend: memory, redis, nats or realtime (env: JESTBLANK_FEED)")
	fs.BoolVar(&f.debug, "debug", false, "enable debug commands (env: JESTBLANK_DEBUG)")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level (env: JESTBLANK_VERBOSE)")

	fs.VisitAll(func(fl *pflag.Flag) {
		_ = v.BindPFlag(fl.Name, fl)
		_ = v.BindEnv(fl.Name)
		if !fl.Changed && v.IsSet(fl.Name) {
			_ = fs.Set(fl.Name, fmt.Sprintf("%v", v.Get(fl.Name)))
		}
	})

	cmd.AddCommand(
		newPlayCmd(f),
		newRelayCmd(f),
		newSweepCmd(f),
		newMigrateCmd(f),
	)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("jestblank v{{.Version}}\n")
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// load resolves the configuration and a logger writing to stderr.
func (f *flags) load() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.store != "" {
		cfg.StoreBackend = f.store
	}
	if f.feed != "" {
		cfg.FeedBackend = f.feed
	}
	if f.debug {
		cfg.DebugMode = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.InfoLevel)
	if f.verbose || cfg.DebugMode {
		logger.SetLevel(logrus.DebugLevel)
	}
	return cfg, logger, nil
}

// session wires everything a player needs on top of an open backend.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	backend *client.Backend
	gw      *gateway.Gateway
	client  *client.Client
}

func (f *flags) openSession(ctx context.Context, opts ...client.Option) (*session, error) {
	cfg, logger, err := f.load()
	if err != nil {
		return nil, err
	}
	backend, err := client.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	expire, err := auth.ParseExpireTime(cfg.TokenExpireTime)
	if err != nil {
		backend.Close()
		return nil, err
	}
	issuer, err := auth.NewTokenIssuer(expire, nil)
	if err != nil {
		backend.Close()
		return nil, err
	}

	gw := gateway.New(backend.Store, backend.Feed, gateway.WithLogger(logger))
	authSvc := auth.NewService(gw, cfg.Collections.Users, issuer, auth.WithLogger(logger))
	opts = append([]client.Option{client.WithLogger(logger)}, opts...)
	return &session{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		gw:      gw,
		client:  client.New(cfg, gw, authSvc, opts...),
	}, nil
}

func (s *session) Close() {
	s.client.Close()
	s.backend.Close()
}
