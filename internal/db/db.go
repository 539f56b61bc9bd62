package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"agriconsult-backend/config"
	"agriconsult-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := applySchedulingDDL(db); err != nil {
		log.Printf("Warning: failed to apply scheduling DDL: %v. Continuing without it.", err)
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate applies the schema for all persisted models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Appointment{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// applySchedulingDDL adds a database-level guard against double-booking: an
// exclusion constraint over the expert's scheduled window for every blocking
// status. The application-level conflict check remains the primary path; the
// constraint closes the insert/insert race two uncommitted transactions can
// still hit.
func applySchedulingDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS btree_gist;",

		"ALTER TABLE appointments " +
			"ADD CONSTRAINT appointments_window_valid CHECK (scheduled_start_time < scheduled_end_time);",

		"ALTER TABLE appointments ADD CONSTRAINT appointments_no_double_booking " +
			"EXCLUDE USING GIST (expert_id WITH =, tstzrange(scheduled_start_time, scheduled_end_time, '[)') WITH &&) " +
			"WHERE (status IN ('pending', 'approved', 'confirmed', 'in_progress'));",

		"CREATE INDEX IF NOT EXISTS idx_appointments_expert_date ON appointments (expert_id, scheduled_date);",
		"CREATE INDEX IF NOT EXISTS idx_appointments_status_end ON appointments (status, scheduled_end_time);",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			// Constraints already in place on a migrated database are fine.
			log.Printf("DDL execution warning (query: %q): %v", ddl, err)
		}
	}
	return nil
}
