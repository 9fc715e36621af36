package database

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/models"
)

// Database represents the database connection and operations
type Database struct {
	db     *gorm.DB
	logger *zap.Logger
	config *config.DatabaseConfig
}

// New creates a new database instance connected to postgres
func New(cfg *config.DatabaseConfig, logger *zap.Logger) (*Database, error) {
	if cfg == nil {
		return nil, errors.New("database config is required")
	}

	if logger == nil {
		return nil, errors.New("logger is required")
	}

	d := &Database{
		logger: logger.Named("database"),
		config: cfg,
	}

	if err := d.connect(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	return d, nil
}

// Wrap adopts an already opened gorm handle, such as an embedded SQLite
// database
func Wrap(db *gorm.DB, logger *zap.Logger) *Database {
	return &Database{
		db:     db,
		logger: logger.Named("database"),
		config: &config.DatabaseConfig{},
	}
}

// connect establishes database connection with proper configuration
func (d *Database) connect() error {
	d.logger.Info("Connecting to database",
		zap.String("host", d.config.Host),
		zap.Int("port", d.config.Port),
		zap.String("name", d.config.Name))

	db, err := gorm.Open(postgres.Open(d.config.DSN()), GormConfig(d.logger, d.config))
	if err != nil {
		return errors.Wrap(err, "failed to open postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(err, "failed to access connection pool")
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(d.config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(d.config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(d.config.ConnMaxLifetime)

	// Test connection with timeout
	ctx, cancel := context.WithTimeout(context.Background(), d.config.ConnectTimeout)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return errors.Wrap(err, "failed to ping database")
	}

	d.db = db
	d.logger.Info("Successfully connected to database")
	return nil
}

// GormConfig returns the gorm settings shared by every dialect
func GormConfig(logger *zap.Logger, cfg *config.DatabaseConfig) *gorm.Config {
	return &gorm.Config{
		Logger:         NewGormLogger(logger, cfg.LogLevel, cfg.SlowQueryThreshold),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// DB returns the underlying gorm.DB instance
func (d *Database) DB() *gorm.DB {
	return d.db
}

// Close closes the database connection
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	d.logger.Info("Closing database connection")
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks the database health
func (d *Database) Health(ctx context.Context) error {
	if d.db == nil {
		return errors.New("database connection not initialized")
	}
	return Ping(ctx, d.db)
}

// RunMigrations migrates the schema
func (d *Database) RunMigrations() error {
	d.logger.Info("Running database migrations")
	if err := Migrate(d.db); err != nil {
		return err
	}
	d.logger.Info("Successfully applied database migrations")
	return nil
}

// Ping checks connectivity of any gorm handle
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx)
}

// partial unique indexes that gorm tags cannot express portably
var indexStatements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_violation_rules_current_group ON violation_rules (group_id) WHERE is_active AND effective_until IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_violation_rules_current_code ON violation_rules (code) WHERE is_active AND effective_until IS NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_contests_open_citation ON contests (citation_id) WHERE status IN ('SUBMITTED', 'UNDER_REVIEW')`,
}

// Migrate creates or updates every table and index
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return errors.Wrap(err, "failed to auto-migrate models")
	}

	for _, stmt := range indexStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return errors.Wrap(err, "failed to create index")
		}
	}

	return nil
}
