package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/nexuscrm/mycrm/internal/config"
	"go.uber.org/zap"
)

const tlsConfigName = "mycrm"

var tlsOnce sync.Once

// Open connects to the MySQL-compatible database described by cfg and
// verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	tlsName := ""
	if cfg.TLS {
		var regErr error
		tlsOnce.Do(func() {
			regErr = mysql.RegisterTLSConfig(tlsConfigName, &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: cfg.Host,
			})
		})
		if regErr != nil {
			return nil, fmt.Errorf("failed to register TLS config: %w", regErr)
		}
		tlsName = tlsConfigName
	}

	db, err := sql.Open("mysql", cfg.DSN(tlsName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// MaxIdleConns matches MaxOpenConns so busy pools do not churn ports.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Name),
		zap.Bool("tls", cfg.TLS))
	return New(db), nil
}
