package commands

import (
	"context"
	"fmt"

	"github.com/nexuscrm/mycrm/internal/application/services"
	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// env holds what the subcommands share. Everything is opened lazily so that
// commands which do not need the database never connect.
type env struct {
	configPath string

	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
}

func (e *env) load() error {
	if e.cfg != nil {
		return nil
	}
	var paths []string
	if e.configPath != "" {
		paths = append(paths, e.configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log, false)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	e.cfg, e.logger = cfg, logger
	return nil
}

func (e *env) database(ctx context.Context) (*database.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	if err := e.load(); err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, e.cfg.Database, e.logger)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

// services wires the service layer without cache, notifier or event sink.
func (e *env) services(ctx context.Context) (*services.ServiceManager, error) {
	db, err := e.database(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewServiceManager(services.Dependencies{
		DB:     db,
		Config: e.cfg,
		Logger: e.logger,
	}), nil
}

func (e *env) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

func newRootCommand(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:          "crmctl",
		Short:        "Operator tool for the CRM server",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "config file (default config.yaml or configs/config.yaml)")

	root.AddCommand(migrateCmd(e), tenantCmd(e), openapiCmd())
	return root
}

func Execute() error {
	e := &env{}
	defer e.close()
	return newRootCommand(e).Execute()
}
