package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"opsight/internal/types"
)

// UsageRepo provides data access for the usage_tracking table -- the per-user
// usage ledger of metered-action counters.
//
// The table has user_id as its primary key; all writes are single-statement
// upserts so concurrent requests from the same user cannot lose increments.
type UsageRepo struct {
	db DBTX
}

// NewUsageRepo creates a new UsageRepo backed by the given database
// connection (pool or transaction).
func NewUsageRepo(db DBTX) *UsageRepo {
	return &UsageRepo{db: db}
}

// counterColumn maps a metered resource to its ledger column. The column name
// is interpolated into SQL, so it must come from this fixed table, never from
// request input.
func counterColumn(resource types.MeteredResource) (string, error) {
	switch resource {
	case types.ResourceAIQueries:
		return "ai_queries_used", nil
	case types.ResourceAlertRules:
		return "alert_rules_created", nil
	case types.ResourceCSVUploads:
		return "csv_files_uploaded", nil
	default:
		return "", fmt.Errorf("unknown metered resource %q", resource)
	}
}

// Increment applies the upsert-increment contract: if no ledger row exists
// for the user, create one with all counters zero except the named counter at
// 1; otherwise atomically bump only the named counter. The whole operation is
// one INSERT ... ON CONFLICT statement executed by the database, so parallel
// requests from the same user serialize on the row and no update is lost.
func (r *UsageRepo) Increment(ctx context.Context, userID string, resource types.MeteredResource) (types.UsageTracking, error) {
	col, err := counterColumn(resource)
	if err != nil {
		return types.UsageTracking{}, types.NewAppError(types.ErrCodeInternalUnexpected, "invalid usage counter", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO usage_tracking (user_id, %[1]s, last_reset_date)
		VALUES ($1, 1, now())
		ON CONFLICT (user_id)
		DO UPDATE SET %[1]s = usage_tracking.%[1]s + 1
		RETURNING user_id, ai_queries_used, alert_rules_created, csv_files_uploaded, last_reset_date`, col)

	var u types.UsageTracking
	err = r.db.QueryRow(ctx, query, userID).Scan(
		&u.UserID,
		&u.AIQueriesUsed,
		&u.AlertRulesCreated,
		&u.CSVFilesUploaded,
		&u.LastResetDate,
	)
	if err != nil {
		return types.UsageTracking{}, types.NewAppError(types.ErrCodeInternalDB, "failed to increment usage counter", err)
	}
	return u, nil
}

// Reset zeroes all three counters and stamps last_reset_date. If no row
// exists one is created with zero counters; the reset is idempotent either
// way. Triggered by successful checkout completion.
func (r *UsageRepo) Reset(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage_tracking (user_id, ai_queries_used, alert_rules_created, csv_files_uploaded, last_reset_date)
		VALUES ($1, 0, 0, 0, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET ai_queries_used     = 0,
		              alert_rules_created = 0,
		              csv_files_uploaded  = 0,
		              last_reset_date     = $2`,
		userID, at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset usage ledger", err)
	}
	return nil
}

// Get returns the ledger row for the user. A missing row is not an error:
// the ledger is created lazily, so absence means zero usage.
func (r *UsageRepo) Get(ctx context.Context, userID string) (types.UsageTracking, error) {
	var u types.UsageTracking
	err := r.db.QueryRow(ctx, `
		SELECT user_id, ai_queries_used, alert_rules_created, csv_files_uploaded, last_reset_date
		FROM usage_tracking
		WHERE user_id = $1`,
		userID,
	).Scan(
		&u.UserID,
		&u.AIQueriesUsed,
		&u.AlertRulesCreated,
		&u.CSVFilesUploaded,
		&u.LastResetDate,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.UsageTracking{UserID: userID}, nil
		}
		return types.UsageTracking{}, types.NewAppError(types.ErrCodeInternalDB, "failed to load usage ledger", err)
	}
	return u, nil
}
