package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/markdave123-py/docsift/internal/core"
	"github.com/markdave123-py/docsift/internal/models"
	"github.com/markdave123-py/docsift/internal/queue"
)

const pdfMIME = "application/pdf"

var (
	ErrEmptyFile       = errors.New("uploaded file is empty")
	ErrUnsupportedType = errors.New("only PDF files are accepted")
)

type Upload struct {
	DocumentID  int64
	FileName    string
	ContentType string
	Data        []byte
}

type Submission struct {
	TaskID      string `json:"task_id"`
	DocumentID  int64  `json:"document_id"`
	ObjectKey   string `json:"object_key"`
	ContentHash string `json:"content_hash"`
}

// IntakeService validates uploads, stores them and enqueues ingestion.
type IntakeService struct {
	objects core.ObjectClient
	queue   queue.Queue
	logger  *slog.Logger
}

func NewIntakeService(objects core.ObjectClient, q queue.Queue, logger *slog.Logger) *IntakeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeService{objects: objects, queue: q, logger: logger.With("component", "intake")}
}

// CheckUpload rejects empty files and anything that is not a PDF, by declared type and by content.
func CheckUpload(up Upload) error {
	if len(up.Data) == 0 {
		return ErrEmptyFile
	}
	if up.ContentType != "" {
		mt, _, err := mime.ParseMediaType(up.ContentType)
		if err != nil || mt != pdfMIME {
			return fmt.Errorf("%w: declared %q", ErrUnsupportedType, up.ContentType)
		}
	}
	if detected := mimetype.Detect(up.Data); !detected.Is(pdfMIME) {
		return fmt.Errorf("%w: content looks like %s", ErrUnsupportedType, detected.String())
	}
	return nil
}

// Submit stores the upload and enqueues one ingestion task for it.
func (s *IntakeService) Submit(ctx context.Context, up Upload) (*Submission, error) {
	if err := CheckUpload(up); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(up.Data)
	hash := hex.EncodeToString(sum[:])
	key := ObjectKey(up.DocumentID, up.FileName)

	if _, err := s.objects.UploadFile(ctx, key, up.Data, pdfMIME); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	taskID, err := s.queue.Enqueue(ctx, models.IngestJob{
		DocumentID:  up.DocumentID,
		FileName:    up.FileName,
		ObjectKey:   key,
		ContentHash: hash,
	})
	if err != nil {
		if delErr := s.objects.DeleteFile(context.WithoutCancel(ctx), key); delErr != nil {
			s.logger.Warn("could not remove orphaned upload", "object_key", key, "err", delErr)
		}
		return nil, fmt.Errorf("enqueue ingestion: %w", err)
	}

	s.logger.Info("document queued",
		"task_id", taskID, "document_id", up.DocumentID, "filename", up.FileName, "bytes", len(up.Data))
	return &Submission{TaskID: taskID, DocumentID: up.DocumentID, ObjectKey: key, ContentHash: hash}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectKey gives every upload its own key under the document's prefix.
func ObjectKey(documentID int64, filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	name = unsafeName.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == "/" {
		name = "document.pdf"
	}
	return path.Join("uploads", fmt.Sprint(documentID), uuid.NewString()+"-"+name)
}
