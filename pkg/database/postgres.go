package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/noah-isme/krs-enrollment-api/pkg/config"
)

const applicationName = "krs-enrollment-api"

// NewPostgres opens the pool backing the seat ledger, catalog, cart and audit tables.
func NewPostgres(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s connect_timeout=5",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode, applicationName)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Seat claims hold a row lock for the whole transaction; the pool bounds concurrent claimers.
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := ReadinessCheck(db)(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ReadinessCheck pings the database and verifies the enrollment schema is migrated.
func ReadinessCheck(db *sqlx.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		var present bool
		if err := db.GetContext(ctx, &present, `SELECT to_regclass('public.enrollments') IS NOT NULL`); err != nil {
			return fmt.Errorf("inspect schema: %w", err)
		}
		if !present {
			return errors.New("enrollment schema missing: apply migrations/001_enrollment.sql")
		}
		return nil
	}
}
