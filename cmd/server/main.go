package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/spf13/cobra"

	"minimedi/internal/app"
	"minimedi/internal/config"
	"minimedi/internal/integrations/paramstore"
	"minimedi/internal/repository"
	"minimedi/internal/server"
)

var (
	configFile  string
	autoMigrate bool
)

var rootCmd = &cobra.Command{
	Use:           "minimedi",
	Short:         "MiniMedi symptom assistant backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file (default: ./config.yaml if present)")
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply Postgres migrations before serving")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var (
		store  app.Store
		params paramstore.Getter
	)
	needAWS := cfg.Store == config.StoreDynamoDB || cfg.NeedsParamStore()
	if needAWS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		if cfg.NeedsParamStore() {
			ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
			if err != nil {
				return err
			}
			params = ssmClient
		}
		if cfg.Store == config.StoreDynamoDB {
			store, err = repository.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
			if err != nil {
				return err
			}
		}
	}
	if cfg.Store == config.StorePostgres {
		db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		if autoMigrate {
			applied, err := repository.Migrate(ctx, db)
			if err != nil {
				return err
			}
			slog.Info("migrations applied", "versions", applied)
		}
		pg, err := repository.NewPostgres(db)
		if err != nil {
			return err
		}
		store = pg
	}

	a, err := app.New(app.Deps{Config: cfg, Store: store, Params: params, Logger: slog.Default()})
	if err != nil {
		return err
	}
	if err := a.Warm(ctx); err != nil {
		return err
	}

	srv, err := server.New(a.Handler, server.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("http server starting", "addr", addr, "store", cfg.Store)
	if err := srv.Run(ctx, addr); err != nil {
		return err
	}
	slog.Info("http server stopped")
	return nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	ctx := cmd.Context()
	db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	applied, err := repository.Migrate(ctx, db)
	if err != nil {
		return err
	}
	version, err := repository.MigrationVersion(ctx, db)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "applied", applied, "version", version)
	return nil
}
