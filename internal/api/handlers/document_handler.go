package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/docsift/internal/models"
	"github.com/markdave123-py/docsift/internal/queue"
	"github.com/markdave123-py/docsift/internal/services"
)

type Submitter interface {
	Submit(ctx context.Context, up services.Upload) (*services.Submission, error)
}

type StatusReader interface {
	Status(ctx context.Context, taskID string) (*models.TaskState, error)
}

type DocumentHandler struct {
	intake   Submitter
	tasks    StatusReader
	maxBytes int64
	logger   *slog.Logger
}

func NewDocumentHandler(intake Submitter, tasks StatusReader, maxUploadMB int, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &DocumentHandler{
		intake:   intake,
		tasks:    tasks,
		maxBytes: int64(maxUploadMB) << 20,
		logger:   logger.With("component", "document_handler"),
	}
}

type processResponse struct {
	TaskID     string `json:"task_id"`
	DocumentID int64  `json:"document_id"`
	Message    string `json:"message"`
}

// ProcessPDF accepts a multipart upload (file, document_id) and queues it for ingestion.
func (h *DocumentHandler) ProcessPDF(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			respondWithError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file size exceeds maximum limit", nil)
			return
		}
		respondBadRequest(w, "expected a multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	rawID := strings.TrimSpace(r.FormValue("document_id"))
	documentID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		respondUnprocessable(w, "document_id must be an integer", map[string]string{"document_id": rawID})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondBadRequest(w, "no file provided", nil)
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		respondWithError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file size exceeds maximum limit", nil)
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("read upload failed", "filename", header.Filename, "err", err)
		respondInternal(w, "could not read uploaded file")
		return
	}

	sub, err := h.intake.Submit(r.Context(), services.Upload{
		DocumentID:  documentID,
		FileName:    filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	switch {
	case errors.Is(err, services.ErrEmptyFile):
		respondBadRequest(w, "uploaded file is empty", nil)
		return
	case errors.Is(err, services.ErrUnsupportedType):
		respondWithError(w, http.StatusUnsupportedMediaType, "invalid_file_type", "only PDF files are allowed", err.Error())
		return
	case err != nil:
		h.logger.Error("queueing upload failed", "document_id", documentID, "err", err)
		respondInternal(w, "an internal error occurred while processing the PDF")
		return
	}

	writeJSON(w, http.StatusAccepted, processResponse{
		TaskID:     sub.TaskID,
		DocumentID: sub.DocumentID,
		Message:    "PDF processing has been queued; the task result reports the document_id to query",
	})
}

// TaskStatus reports the lifecycle state of an ingestion task.
func (h *DocumentHandler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	st, err := h.tasks.Status(r.Context(), taskID)
	switch {
	case errors.Is(err, queue.ErrInvalidTaskID):
		respondBadRequest(w, "malformed task id", taskID)
		return
	case err != nil:
		h.logger.Error("read task status failed", "task_id", taskID, "err", err)
		respondInternal(w, "could not read task status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
