package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/GregdeFoy/Zettl/internal/migrate"
	"github.com/GregdeFoy/Zettl/internal/server"
	"github.com/GregdeFoy/Zettl/internal/store"
	"github.com/GregdeFoy/Zettl/internal/task"
	"github.com/GregdeFoy/Zettl/pkg/config"
	"github.com/GregdeFoy/Zettl/pkg/database"
	"github.com/GregdeFoy/Zettl/pkg/logger"
)

const version = "1.0.0"

var (
	flagSkipBackup      bool
	flagDryRun          bool
	flagBackupDir       string
	flagBootstrapTenant bool
)

func init() {
	migrateCmd.Flags().BoolVar(&flagSkipBackup, "skip-backup", false, "skip the pre-migration pg_dump backup")
	migrateCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "run the full migration and roll it back instead of committing")
	migrateCmd.Flags().StringVar(&flagBackupDir, "backup-dir", "", "directory for the pre-migration backup (overrides config)")
	migrateCmd.Flags().BoolVar(&flagBootstrapTenant, "bootstrap-tenant", false, "register an initial tenant for legacy rows when the registry is empty")
}

// runtime bundles the pieces every command needs
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	db     *database.PostgreSQL
	store  *store.Store
	seq    *migrate.Sequencer
	dbConf database.PostgreSQLConfig
}

func setup(ctx context.Context, component string) (*runtime, error) {
	cfg := config.New()
	cfg.LoadFromEnv()

	log := logger.New(component, version)

	dbConf := database.FromGlobalConfig(cfg)
	db, err := database.New(ctx, dbConf)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	backupDir := cfg.Get("backup.dir")
	if flagBackupDir != "" {
		backupDir = flagBackupDir
	}

	return &runtime{
		cfg:    cfg,
		log:    log,
		db:     db,
		store:  store.New(db, log),
		dbConf: dbConf,
		seq: migrate.New(db, dbConf, log, migrate.Options{
			SkipBackup:      flagSkipBackup,
			DryRun:          flagDryRun,
			BackupDir:       backupDir,
			BootstrapTenant: flagBootstrapTenant,
		}),
	}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin server and the tag aggregate refresher",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := setup(ctx, "zettl-store")
		if err != nil {
			return err
		}
		defer rt.db.Close()

		port, err := strconv.Atoi(rt.cfg.Get("admin.port"))
		if err != nil {
			return fmt.Errorf("invalid admin.port: %w", err)
		}

		refresher := task.NewRefresher(rt.store, rt.log, rt.cfg.Get("refresh.schedule"))
		if err := refresher.Start(ctx); err != nil {
			return err
		}

		srv := server.New(rt.store, rt.seq, rt.log, port, rt.cfg.Get("admin.token_hash"))
		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			refresher.Stop()
			return err
		case sig := <-sigCh:
			rt.log.Infof("Received %s, shutting down", sig)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rt.log.Errorf("Admin server shutdown failed: %v", err)
		}
		refresher.Stop()
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Convert the database to the tenant-scoped layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := setup(ctx, "zettl-migrate")
		if err != nil {
			return err
		}
		defer rt.db.Close()

		result, err := rt.seq.Run(ctx)
		if err != nil {
			return err
		}

		if result.DryRun {
			fmt.Printf("Dry run %s completed, all changes rolled back\n", result.RunID)
		} else {
			fmt.Printf("Migration %s completed (%d steps)\n", result.RunID, len(result.Steps))
		}
		if result.BackupPath != "" {
			fmt.Printf("Backup: %s\n", result.BackupPath)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the schema postconditions against the live database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := setup(ctx, "zettl-verify")
		if err != nil {
			return err
		}
		defer rt.db.Close()

		report, err := rt.seq.Verify(ctx)
		if err != nil {
			return err
		}
		if !report.Ok() {
			for _, failure := range report.Failures {
				fmt.Fprintf(os.Stderr, "FAIL: %s\n", failure)
			}
			return fmt.Errorf("%d of %d checks failed", len(report.Failures), report.Checks)
		}
		fmt.Printf("All %d checks passed\n", report.Checks)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rebuild the materialized tag aggregate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := setup(ctx, "zettl-refresh")
		if err != nil {
			return err
		}
		defer rt.db.Close()

		return rt.store.RefreshTagCounts(ctx)
	},
}

var initTenantCmd = &cobra.Command{
	Use:   "init-tenant",
	Short: "Bootstrap the database, register the first tenant and set the admin token",
	Long: `init-tenant creates the database when missing, brings the schema to the
tenant-scoped layout, registers a tenant and prompts for an admin token. The
token's bcrypt hash is printed for the ` + config.EnvAdminTokenHash + `
environment variable; the token itself is never stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg := config.New()
		cfg.LoadFromEnv()
		dbConf := database.FromGlobalConfig(cfg)

		if err := database.CreateDatabase(ctx, dbConf); err != nil {
			return err
		}

		rt, err := setup(ctx, "zettl-init")
		if err != nil {
			return err
		}
		defer rt.db.Close()

		if _, err := rt.seq.Run(ctx); err != nil {
			return err
		}

		tenant, err := rt.store.CreateTenant(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Registered tenant %d\n", tenant.TenantID)

		fmt.Print("Admin token (input hidden): ")
		token, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read admin token: %w", err)
		}
		if len(token) == 0 {
			fmt.Println("No admin token set; /admin endpoints will refuse requests")
			return nil
		}

		hash, err := bcrypt.GenerateFromPassword(token, bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash admin token: %w", err)
		}
		fmt.Printf("export %s='%s'\n", config.EnvAdminTokenHash, hash)
		return nil
	},
}
