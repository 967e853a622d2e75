package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"icstore/internal/app"
	"icstore/internal/platform/config"
	"icstore/internal/platform/logger"
	"icstore/pkg/requestcontext"
)

// newRootCmd builds the command tree. Flags override ICSTORE_* environment
// variables, which override an optional icadmin.yaml config file.
func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "icadmin",
		Short:         "Administer the identity constellation store",
		Long:          "icadmin runs maintenance tasks against the constellation store: schema migration, batch duplicate merges, maybe-same reconciliation and lock recovery.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default ./icadmin.yaml)")
	flags.String("db-driver", "", "store backend: postgres, sqlite or memory")
	flags.String("db-dsn", "", "database DSN or sqlite file path")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("actor", "icadmin", "curator name recorded on written versions")
	_ = v.BindPFlags(flags)

	root.AddCommand(
		newMigrateCmd(v),
		newImportCmd(v),
		newShowCmd(v),
		newDedupeCmd(v),
		newReconcileCmd(v),
		newUnlockCmd(v),
		newResurrectCmd(v),
		newIssueTokenCmd(v),
	)
	return root
}

func initConfig(v *viper.Viper, cmd *cobra.Command) error {
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("icadmin")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("ICSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// loadConfig layers the viper settings on top of the environment defaults.
func loadConfig(v *viper.Viper) config.Config {
	cfg := config.FromEnv()
	if s := v.GetString("db-driver"); s != "" {
		cfg.Database.Driver = s
	}
	if s := v.GetString("db-dsn"); s != "" {
		cfg.Database.DSN = s
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.Log.Level = s
	}
	if v.IsSet("merge-concurrency") {
		cfg.Merge.Concurrency = v.GetInt("merge-concurrency")
	}
	if s := v.GetString("report-dir"); s != "" {
		cfg.Merge.ReportDir = s
	}
	return cfg
}

// openApp wires the services and returns a context acting as the
// configured administrator.
func openApp(cmd *cobra.Command, v *viper.Viper) (context.Context, *app.App, error) {
	cfg := loadConfig(v)
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, "text")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, log, prometheus.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	ctx = requestcontext.WithActor(ctx, requestcontext.ActorInfo{ID: v.GetString("actor"), Admin: true})
	ctx = requestcontext.WithRequestID(ctx, "icadmin-"+cmd.Name())
	return ctx, a, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
