package db

import (
	"context"

	"opsight/internal/types"
)

// AlertRepo provides data access for the alert_rules table. Rules are
// append-only in the current scope: created via the API, never updated or
// deleted, and no evaluation engine reads them back except the list view.
type AlertRepo struct {
	db DBTX
}

// NewAlertRepo creates a new AlertRepo backed by the given database connection.
func NewAlertRepo(db DBTX) *AlertRepo {
	return &AlertRepo{db: db}
}

// Create inserts a new alert rule.
func (r *AlertRepo) Create(ctx context.Context, rule *types.AlertRule) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO alert_rules (id, user_id, name, metric, threshold, condition, channel, recipients, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rule.ID, rule.UserID, rule.Name, rule.Metric, rule.Threshold,
		rule.Condition, rule.Channel, rule.Recipients, rule.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create alert rule", err)
	}
	return nil
}

// ListByUser returns the user's alert rules, newest first.
func (r *AlertRepo) ListByUser(ctx context.Context, userID string) ([]*types.AlertRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, name, metric, threshold, condition, channel, recipients, created_at
		FROM alert_rules
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list alert rules", err)
	}
	defer rows.Close()

	var rules []*types.AlertRule
	for rows.Next() {
		var rule types.AlertRule
		if err := rows.Scan(
			&rule.ID, &rule.UserID, &rule.Name, &rule.Metric, &rule.Threshold,
			&rule.Condition, &rule.Channel, &rule.Recipients, &rule.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan alert rule", err)
		}
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating alert rules", err)
	}
	return rules, nil
}
