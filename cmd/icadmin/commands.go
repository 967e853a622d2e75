package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"icstore/internal/constellation/adapters/codec"
	constellation "icstore/internal/constellation/service"
	jwttoken "icstore/internal/jwt_token"
	"icstore/internal/merge/batch"
)

func parseICID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ic_id %q", arg)
	}
	return id, nil
}

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := openApp(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()
			printf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.Config.Database.Driver)
			return nil
		},
	}
}

func newImportCmd(v *viper.Viper) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Create a constellation from a JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := openApp(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			doc, err := codec.JSON{}.Parse(ctx, f)
			if err != nil {
				return err
			}
			res, err := a.Constellations.Create(ctx, constellation.CreateRequest{
				EntityType: doc.EntityType,
				ArkID:      doc.ArkID,
				Edits:      doc.Edits,
				Note:       note,
			})
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "created ic_id=%d version=%d\n", res.ICID, res.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "imported", "note recorded on the first version")
	return cmd
}

func newShowCmd(v *viper.Viper) *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "show IC_ID",
		Short: "Print a constellation snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			icID, err := parseICID(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := openApp(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			snapshot, err := a.Constellations.Read(ctx, icID, version)
			if err != nil {
				return err
			}
			return codec.JSON{Indent: "  "}.Serialize(ctx, cmd.OutOrStdout(), snapshot)
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "version to read (default latest of the survivor)")
	return cmd
}

func newDedupeCmd(v *viper.Viper) *cobra.Command {
	var retry string
	cmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Merge constellations sharing a name",
		Long:  "dedupe groups active constellations by case-folded name and auto-merges every group. A YAML report is written to the report directory; pass it back with --retry to re-run only the failed groups.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := openApp(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := batch.New(a.Store, a.Merges,
				batch.WithConcurrency(a.Config.Merge.Concurrency),
				batch.WithLogger(a.Logger),
				batch.WithMetrics(a.Metrics),
			)
			if err != nil {
				return err
			}

			var report *batch.Report
			if retry != "" {
				f, err := os.Open(retry)
				if err != nil {
					return err
				}
				previous, err := batch.ReadReport(f)
				_ = f.Close()
				if err != nil {
					return err
				}
				report = runner.Retry(ctx, previous)
			} else {
				report, err = runner.Run(ctx)
				if err != nil {
					return err
				}
			}

			path := filepath.Join(a.Config.Merge.ReportDir, "dedupe-"+report.RunID+".yaml")
			out, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create report: %w", err)
			}
			if err := batch.WriteReport(out, report); err != nil {
				_ = out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "groups=%d merged=%d failed=%d report=%s\n",
				report.Groups, len(report.Merged), len(report.Failed), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&retry, "retry", "", "report of a previous run whose failed groups are retried")
	cmd.Flags().Int("merge-concurrency", 0, "groups merged in parallel")
	cmd.Flags().String("report-dir", "", "directory receiving the YAML report")
	_ = v.BindPFlag("merge-concurrency", cmd.Flags().Lookup("merge-concurrency"))
	_ = v.BindPFlag("report-dir", cmd.Flags().Lookup("report-dir"))
	return cmd
}

func newReconcileCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-maybe-same",
		Short: "Fold legacy directional maybe-same rows into canonical pairs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := openApp(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Merges.ReconcileLegacy(ctx)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			if err := enc.Encode(res); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

func newUnlockCmd(v *viper.Viper) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "unlock IC_ID",
		Short: "Release an abandoned editing lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			icID, err := parseICID(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := openApp(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Constellations.Unlock(ctx, icID, note)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "unlocked ic_id=%d version=%d\n", res.ICID, res.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "administrative unlock", "note recorded on the new version")
	return cmd
}

func newResurrectCmd(v *viper.Viper) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "resurrect IC_ID",
		Short: "Restore a deleted constellation for editing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			icID, err := parseICID(args[0])
			if err != nil {
				return err
			}
			ctx, a, err := openApp(cmd, v)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Constellations.Resurrect(ctx, icID, note)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "resurrected ic_id=%d version=%d\n", res.ICID, res.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "administrative resurrect", "note recorded on the new version")
	return cmd
}

func newIssueTokenCmd(v *viper.Viper) *cobra.Command {
	var (
		admin bool
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-token CURATOR",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(v)
			token, err := jwttoken.New(cfg.Server.JWTSigningKey).Issue(args[0], admin, ttl)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant administrative routes")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime")
	return cmd
}
