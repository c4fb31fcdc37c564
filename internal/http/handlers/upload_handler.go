// Upload HTTP handlers.
//
// This file exposes the partner batch ingestion endpoints:
//   - POST /uploads                        (create a pending batch)
//   - PUT  /uploads/{batch_id}/file        (upload the CSV)
//   - POST /uploads/{batch_id}/complete    (queue the batch for processing)
//   - GET  /uploads/{batch_id}/status      (poll progress)
//   - POST /admin/batches/{batch_id}/retry (operator retry of a failed batch)
package handlers

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-lead-exchange/internal/domain"
	"github.com/tbourn/go-lead-exchange/internal/services"
)

// CreateUploadRequest is the JSON payload for starting an upload.
type CreateUploadRequest struct {
	// FileName is the partner's original file name; it must end in .csv.
	FileName string `json:"file_name" binding:"required" example:"leads-2024-q3.csv"`
}

// CreateUploadResponse tells the partner where to send the file.
type CreateUploadResponse struct {
	BatchID      string             `json:"batch_id"`
	Status       domain.BatchStatus `json:"status"`
	FileName     string             `json:"file_name"`
	UploadURL    string             `json:"upload_url"`
	UploadMethod string             `json:"upload_method"`
	CompleteURL  string             `json:"complete_url"`
}

// CompleteUploadResponse acknowledges a batch queued for processing.
type CompleteUploadResponse struct {
	BatchID string `json:"batch_id"`
	// Status is always validating: the batch has been accepted, whatever
	// the worker has done with it since.
	Status               domain.BatchStatus `json:"status" example:"validating"`
	EstimatedTimeSeconds int64              `json:"estimated_time_seconds" example:"12"`
}

func newCompleteUploadResponse(b *domain.UploadBatch, now time.Time) CompleteUploadResponse {
	resp := CompleteUploadResponse{BatchID: b.ID, Status: domain.BatchValidating}
	if b.EstimatedCompletionAt != nil {
		resp.EstimatedTimeSeconds = max(int64(math.Ceil(b.EstimatedCompletionAt.Sub(now).Seconds())), 0)
	}
	return resp
}

// batchID reads and validates the :batch_id path parameter.
func batchID(c *gin.Context) (string, bool) {
	id := c.Param("batch_id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "batch id must be a UUID")
		return "", false
	}
	return id, true
}

// CreateUpload godoc
// @ID          createUpload
// @Summary     Start a CSV upload
// @Description Registers a pending batch and returns the URL the file must be uploaded to.
// @Tags        Uploads
// @Accept      json
// @Produce     json
//
// @Param       X-Partner-ID  header  string  true  "Partner ID"  example(partner-42)
// @Param       body          body    handlers.CreateUploadRequest  true  "Upload metadata"
//
// @Success     201  {object}  handlers.CreateUploadResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /uploads [post]
func (h *Handlers) CreateUpload(c *gin.Context) {
	pid, authed := requirePartner(c)
	if !authed {
		return
	}
	var req CreateUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "file_name is required")
		return
	}
	b, err := h.uploads.Create(c.Request.Context(), pid, req.FileName)
	if err != nil {
		failErr(c, err)
		return
	}
	base := h.basePath + "/uploads/" + b.ID
	ok(c, http.StatusCreated, CreateUploadResponse{
		BatchID:      b.ID,
		Status:       b.Status,
		FileName:     b.FileName,
		UploadURL:    base + "/file",
		UploadMethod: http.MethodPut,
		CompleteURL:  base + "/complete",
	})
}

// UploadFile godoc
// @ID          uploadFile
// @Summary     Upload the batch CSV
// @Description Stores the CSV for a pending batch. Accepts a raw text/csv body or a multipart form with a "file" field.
// @Tags        Uploads
// @Accept      text/csv
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-Partner-ID  header  string  true  "Partner ID"
// @Param       batch_id      path    string  true  "Batch ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request or batch already processed"
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Failure     413  {object}  handlers.ErrorResponse  "File too large"
// @Router      /uploads/{batch_id}/file [put]
func (h *Handlers) UploadFile(c *gin.Context) {
	pid, authed := requirePartner(c)
	if !authed {
		return
	}
	id, valid := batchID(c)
	if !valid {
		return
	}

	var body io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			if tooLarge(err) {
				fail(c, http.StatusRequestEntityTooLarge, ErrCodeUploadTooLarge, "file too large")
				return
			}
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"file\" is required")
			return
		}
		f, err := fh.Open()
		if err != nil {
			failErr(c, err)
			return
		}
		defer f.Close()
		body = f
	}

	if err := h.uploads.UploadFile(c.Request.Context(), pid, id, body); err != nil {
		if tooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeUploadTooLarge, "file too large")
			return
		}
		failErr(c, err)
		return
	}
	noContent(c)
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// CompleteUpload godoc
// @ID          completeUpload
// @Summary     Finish an upload
// @Description Marks the upload complete and queues the batch. Returns the initial status with an estimated completion time.
// @Tags        Uploads
// @Produce     json
//
// @Param       X-Partner-ID  header  string  true  "Partner ID"
// @Param       batch_id      path    string  true  "Batch ID (UUID)"  format(uuid)
//
// @Success     202  {object}  handlers.CompleteUploadResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Already processed or file missing"
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Router      /uploads/{batch_id}/complete [post]
func (h *Handlers) CompleteUpload(c *gin.Context) {
	pid, authed := requirePartner(c)
	if !authed {
		return
	}
	id, valid := batchID(c)
	if !valid {
		return
	}
	b, err := h.uploads.Complete(c.Request.Context(), pid, id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, newCompleteUploadResponse(b, time.Now()))
}

// UploadStatus godoc
// @ID          uploadStatus
// @Summary     Poll batch progress
// @Tags        Uploads
// @Produce     json
//
// @Param       X-Partner-ID  header  string  true  "Partner ID"
// @Param       batch_id      path    string  true  "Batch ID (UUID)"  format(uuid)
//
// @Success     200  {object}  services.BatchStatusView
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Router      /uploads/{batch_id}/status [get]
func (h *Handlers) UploadStatus(c *gin.Context) {
	pid, authed := requirePartner(c)
	if !authed {
		return
	}
	id, valid := batchID(c)
	if !valid {
		return
	}
	v, err := h.uploads.Status(c.Request.Context(), pid, id)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, v)
}

// RetryBatch godoc
// @ID          retryBatch
// @Summary     Retry a failed batch (operator)
// @Description Creates a new batch over the failed batch's file and queues it. The failed batch is left untouched.
// @Tags        Admin
// @Produce     json
//
// @Param       batch_id  path  string  true  "Failed batch ID (UUID)"  format(uuid)
//
// @Success     201  {object}  services.BatchStatusView
// @Failure     404  {object}  handlers.ErrorResponse  "Batch not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Batch did not fail"
// @Router      /admin/batches/{batch_id}/retry [post]
func (h *Handlers) RetryBatch(c *gin.Context) {
	id, valid := batchID(c)
	if !valid {
		return
	}
	b, err := h.uploads.RetryBatch(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, services.NewBatchStatusView(b, time.Now()))
}
