package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/mediastore/internal/auth"
	"github.com/memohai/mediastore/internal/boot"
	"github.com/memohai/mediastore/internal/catalog/sqlitestore"
	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/mediatype"
	"github.com/memohai/mediastore/internal/metrics"
	"github.com/memohai/mediastore/internal/migration"
	"github.com/memohai/mediastore/internal/probe"
	"github.com/memohai/mediastore/internal/storage"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <anonymous-identity> <authenticated-identity>",
		Short: "Move an anonymous identity's files to an account and leave a redirect",
		Long: "Runs the same migration as POST /media/migrate against the storage root.\n" +
			"Stop the server first: locks are per process.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := provideConfig()
			if err != nil {
				return err
			}
			log := provideLogger(cfg)
			oldID, err := identity.Parse(args[0])
			if err != nil {
				return err
			}
			newID, err := identity.Parse(args[1])
			if err != nil {
				return err
			}

			mgr, err := storage.NewManager(log, envOr("MEDIA_ROOT", cfg.Storage.Root))
			if err != nil {
				return err
			}
			store, err := openCatalog(log, cfg.Catalog)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := migration.NewEngine(log, mgr, store, metrics.Noop()).Migrate(cmd.Context(), oldID, newID)
			if err != nil {
				if errors.Is(err, migration.ErrMigrationPartial) {
					fmt.Fprintf(cmd.ErrOrStderr(), "moved %d file(s) before stopping; rerun to resume\n", res.Moved)
				}
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newProbeCommand() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "probe <file>",
		Short: "Print the duration, dimensions and frame count of a media file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := provideConfig()
			if err != nil {
				return err
			}
			log := provideLogger(cfg)

			k := mediatype.Kind(strings.ToLower(kind))
			if k == "" {
				detected, ok := mediatype.KindForName(filepath.Base(args[0]))
				if !ok {
					return fmt.Errorf("cannot tell the media kind of %s, pass --kind", args[0])
				}
				k = detected
			}
			if k != mediatype.KindVideo && k != mediatype.KindImage {
				return fmt.Errorf("unknown kind %q", kind)
			}

			prober := probe.New(log, probe.Options{
				Binary:     envOr("FFPROBE_PATH", cfg.Probe.Binary),
				Timeout:    cfg.Probe.Timeout.Duration,
				DefaultFPS: cfg.Probe.DefaultFPS,
			})
			info, err := prober.Probe(cmd.Context(), args[0], k)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "media kind (video or image); derived from the extension when empty")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for an authenticated identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := provideConfig()
			if err != nil {
				return err
			}
			rc, err := boot.ProvideRuntimeConfig(cfg)
			if err != nil {
				return err
			}
			subject, err := identity.Parse(args[0])
			if err != nil {
				return err
			}
			if subject.IsAnonymous() {
				return fmt.Errorf("%w: tokens are only issued to authenticated identities", identity.ErrInvalidIdentity)
			}
			if ttl <= 0 {
				ttl = rc.JwtExpiresIn
			}
			token, expiresAt, err := auth.GenerateToken(subject.String(), rc.JwtSecret, ttl)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"access_token": token,
				"token_type":   "Bearer",
				"expires_at":   expiresAt.UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.jwt_expires_in)")
	return cmd
}

func newAnonIDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "anon-id",
		Short: "Mint a new anonymous identity",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), identity.NewAnonymous())
		},
	}
}

func newCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the sqlite metadata catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:       "migrate <up|down|version|force> [version]",
		Short:     "Run catalog schema migrations",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: []string{"up", "down", "version", "force"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := provideConfig()
			if err != nil {
				return err
			}
			if cfg.Catalog.Type != "" && cfg.Catalog.Type != "sqlite" {
				return fmt.Errorf("catalog type %q has no schema migrations", cfg.Catalog.Type)
			}
			log := provideLogger(cfg)
			v, err := sqlitestore.MigrateFile(log, cfg.Catalog.Path, args[0], args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", v.Version, v.Dirty)
			return nil
		},
	})
	return cmd
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

