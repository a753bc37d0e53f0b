package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/maltedev/size-stock-monitor/internal/models"
)

// Querier interface for database operations (for testing)
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const checkLogSchema = `
CREATE TABLE IF NOT EXISTS stock_checks (
	id              BIGSERIAL PRIMARY KEY,
	product_id      TEXT        NOT NULL,
	channel_id      TEXT        NOT NULL,
	store           TEXT        NOT NULL,
	url             TEXT        NOT NULL,
	available_sizes TEXT[]      NOT NULL DEFAULT '{}',
	error_message   TEXT,
	checked_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stock_checks_product ON stock_checks (product_id, checked_at DESC);`

// CheckLog keeps an audit trail of every stock check. It is write-mostly and
// never read by the polling loop.
type CheckLog struct {
	db Querier
}

func NewCheckLog(db Querier) *CheckLog {
	return &CheckLog{db: db}
}

func (c *CheckLog) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, checkLogSchema); err != nil {
		return fmt.Errorf("failed to create stock_checks table: %w", err)
	}
	return nil
}

func (c *CheckLog) RecordCheck(ctx context.Context, rec models.CheckRecord) error {
	query := `
		INSERT INTO stock_checks (product_id, channel_id, store, url, available_sizes, error_message, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	sizes := []string(rec.AvailableSizes)
	if sizes == nil {
		sizes = []string{}
	}

	var errMsg *string
	if rec.Error != "" {
		errMsg = &rec.Error
	}

	_, err := c.db.Exec(ctx, query,
		rec.ProductID,
		rec.Destination,
		string(rec.Store),
		rec.URL,
		sizes,
		errMsg,
		rec.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert check: %w", err)
	}
	return nil
}

// RecentChecks returns the newest checks for a product, newest first.
func (c *CheckLog) RecentChecks(ctx context.Context, productID string, limit int) ([]models.CheckRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT product_id, channel_id, store, url, available_sizes, COALESCE(error_message, ''), checked_at
		FROM stock_checks
		WHERE product_id = $1
		ORDER BY checked_at DESC
		LIMIT $2`

	rows, err := c.db.Query(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query checks: %w", err)
	}
	defer rows.Close()

	var records []models.CheckRecord
	for rows.Next() {
		var (
			rec       models.CheckRecord
			store     string
			sizes     []string
			checkedAt time.Time
		)
		if err := rows.Scan(&rec.ProductID, &rec.Destination, &store, &rec.URL, &sizes, &rec.Error, &checkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		rec.Store = models.Store(store)
		rec.AvailableSizes = models.SizeSet(sizes)
		rec.CheckedAt = checkedAt
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checks: %w", err)
	}
	return records, nil
}
