package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"opsight/internal/core"
	"opsight/internal/quota"
	"opsight/internal/types"
)

// uploadStatusUploaded is the only status an accepted upload record carries;
// file contents are not parsed or stored in the current scope.
const uploadStatusUploaded = "uploaded"

// maxUploadMemory is the in-memory threshold for multipart parsing; larger
// files spill to temp disk.
const maxUploadMemory = 1 << 20

// maxUploadRequestSize caps the whole multipart request. Larger than the
// pilot per-file limit so paid users can upload bigger files.
const maxUploadRequestSize = 100 << 20

// UploadRecorder defines the data access contract for upload metadata.
// Mirrors the concrete db.UploadRepo methods used by this handler.
type UploadRecorder interface {
	Create(ctx context.Context, upload *types.CsvUpload) error
}

// UploadResponse is the success body for POST /v1/uploads/csv.
type UploadResponse struct {
	Upload *types.CsvUpload    `json:"upload"`
	Usage  types.UsageSnapshot `json:"usage"`
}

// UploadsHandler serves CSV metadata uploads. Only the metadata row is
// persisted; the file body is read for its size and discarded.
type UploadsHandler struct {
	uploads UploadRecorder
	subs    SubscriptionGetter
	usage   UsageLedger
	nudger  Nudger
	clock   types.Clock
	logger  *slog.Logger
}

// NewUploadsHandler creates a new UploadsHandler. A nil clock falls back to
// the real clock.
func NewUploadsHandler(
	uploads UploadRecorder,
	subs SubscriptionGetter,
	usage UsageLedger,
	nudger Nudger,
	clock types.Clock,
	l *slog.Logger,
) *UploadsHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &UploadsHandler{
		uploads: uploads,
		subs:    subs,
		usage:   usage,
		nudger:  nudger,
		clock:   clock,
		logger:  l,
	}
}

// RegisterRoutes mounts the upload routes on the provided chi.Router.
func (h *UploadsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/uploads/csv", h.UploadCSV)
}

// UploadCSV handles POST /v1/uploads/csv (multipart form, field "file").
//
// Validation order matters for the client contract: a file that is both
// non-CSV and oversized reports the type error first (400 before 413). The
// pilot size gate is per file, exact at the boundary: a 5 MiB file passes,
// one byte more is denied.
func (h *UploadsHandler) UploadCSV(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadRequestSize)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingFile,
			"request must be multipart/form-data with a file field",
			err,
		))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingFile,
			"missing file field in upload",
			err,
		))
		return
	}
	defer file.Close()

	fileName := header.Filename
	if !strings.HasSuffix(strings.ToLower(fileName), ".csv") {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationNotCSV,
			"only .csv files are accepted",
			nil,
		))
		return
	}

	sub, err := h.subs.GetByUserID(r.Context(), actor.UserID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if d := quota.CheckCSVUpload(sub, header.Size); !d.Allowed {
		if h.nudger != nil {
			h.nudger.Notify(actor, types.ResourceCSVUploads)
		}
		core.Error(w, r, types.NewQuotaError(types.ErrCodePayloadTooLarge, d.Message))
		return
	}

	upload := &types.CsvUpload{
		ID:        "upl_" + uuid.NewString(),
		UserID:    actor.UserID,
		FileName:  fileName,
		FileSize:  header.Size,
		Status:    uploadStatusUploaded,
		CreatedAt: h.clock.Now(),
	}
	if err := h.uploads.Create(r.Context(), upload); err != nil {
		core.Error(w, r, err)
		return
	}

	updated, err := h.usage.Increment(r.Context(), actor.UserID, types.ResourceCSVUploads)
	if err != nil {
		h.logger.Error("usage increment failed after upload",
			"user_id", actor.UserID,
			"error", err,
		)
		// The row is persisted; respond with whatever ledger state is readable.
		updated, _ = h.usage.Get(r.Context(), actor.UserID)
		updated.UserID = actor.UserID
	}

	core.JSON(w, r, http.StatusCreated, UploadResponse{
		Upload: upload,
		Usage:  quota.Snapshot(sub, updated),
	})
}
