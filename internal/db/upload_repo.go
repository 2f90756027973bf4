package db

import (
	"context"

	"opsight/internal/types"
)

// UploadRepo provides data access for the csv_uploads table. Uploads record
// metadata only; file contents are never stored or processed.
type UploadRepo struct {
	db DBTX
}

// NewUploadRepo creates a new UploadRepo backed by the given database connection.
func NewUploadRepo(db DBTX) *UploadRepo {
	return &UploadRepo{db: db}
}

// Create inserts a new upload metadata row.
func (r *UploadRepo) Create(ctx context.Context, up *types.CsvUpload) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO csv_uploads (id, user_id, file_name, file_size, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		up.ID, up.UserID, up.FileName, up.FileSize, up.Status, up.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record csv upload", err)
	}
	return nil
}
