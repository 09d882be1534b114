package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the portal tables. Timestamps use microsecond precision
// because they double as the dedup key for change events.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS weather_reports (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		report     TEXT NOT NULL,
		created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		KEY idx_weather_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS announcements (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		portal_type ENUM('devotee','seva') NOT NULL,
		title       VARCHAR(200) NOT NULL,
		content     TEXT NOT NULL,
		created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		KEY idx_announcements_portal (portal_type, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS ticket_prices (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		ticket_type VARCHAR(100) NOT NULL,
		price       DECIMAL(10,2) NOT NULL,
		version     BIGINT UNSIGNED NOT NULL DEFAULT 1,
		updated_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		UNIQUE KEY uq_ticket_type (ticket_type),
		CHECK (price >= 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS route_maps (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		title       VARCHAR(200) NOT NULL,
		description TEXT NOT NULL,
		map_data    MEDIUMTEXT NOT NULL,
		created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS gallery (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		title       VARCHAR(200) NOT NULL,
		description TEXT NULL,
		image_url   VARCHAR(1024) NOT NULL,
		created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS pending_accounts (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name        VARCHAR(200) NOT NULL,
		email       VARCHAR(320) NOT NULL,
		assigned_id VARCHAR(50) NOT NULL,
		status      ENUM('pending','approved','rejected') NOT NULL DEFAULT 'pending',
		created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		KEY idx_pending_status (status)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing tables. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
