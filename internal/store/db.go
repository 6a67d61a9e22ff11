package store

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/service"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// Store wraps the gorm connection shared by every component.
type Store struct {
	db *gorm.DB
}

// Open connects using the configured driver.
func Open(cfg service.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(postgresDSN(cfg))
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "kangaroo.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return open(dialector, cfg.Driver != "postgres", service.Named("gorm"))
}

// OpenMemory returns a private in-memory sqlite store.
func OpenMemory() (*Store, error) {
	return open(sqlite.Open(":memory:"), true, service.Named("gorm"))
}

func open(dialector gorm.Dialector, singleConn bool, log *zap.SugaredLogger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  newGormLogger(log),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if singleConn {
		// sqlite allows one writer; an in-memory database also lives on one connection.
		sqlDB.SetMaxOpenConns(1)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying gorm.DB instance.
func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the schema and seeds the singleton account on first run.
// An existing account keeps its balance.
func (s *Store) Migrate(startingBalance decimal.Decimal) error {
	if err := s.db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	var acct model.Account
	err := s.db.First(&acct, model.AccountID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("load account: %w", err)
	}

	acct = model.Account{ID: model.AccountID, Balance: startingBalance}
	if err := s.db.Create(&acct).Error; err != nil {
		return fmt.Errorf("seed account: %w", err)
	}
	return nil
}

func postgresDSN(cfg service.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}

	host := cfg.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := cfg.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	if cfg.Name != "" {
		u.Path = "/" + cfg.Name
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}
