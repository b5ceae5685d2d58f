package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/markdave123-py/docsift/internal/services"
)

type Answerer interface {
	Answer(ctx context.Context, req services.QueryRequest) *services.QueryResult
}

type QueryHandler struct {
	queries  Answerer
	validate *validator.Validate
	logger   *slog.Logger
}

func NewQueryHandler(queries Answerer, logger *slog.Logger) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{
		queries:  queries,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "query_handler"),
	}
}

type QueryBody struct {
	UserQuery string `json:"user_query" validate:"required,max=4000"`
	TopK      *int   `json:"top_k,omitempty" validate:"omitempty,min=1,max=50"`
}

type queryResponse struct {
	DocumentID      int64  `json:"document_id"`
	Query           string `json:"query"`
	Answer          string `json:"answer"`
	RetrievedChunks int    `json:"retrieved_chunks"`
}

// QueryDocument answers a question over one document's chunks.
func (h *QueryHandler) QueryDocument(w http.ResponseWriter, r *http.Request) {
	rawID := chi.URLParam(r, "document_id")
	documentID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		respondUnprocessable(w, "document_id must be an integer", map[string]string{"document_id": rawID})
		return
	}

	var body QueryBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil {
		respondUnprocessable(w, "invalid request body", err.Error())
		return
	}
	body.UserQuery = strings.TrimSpace(body.UserQuery)
	if err := h.validate.Struct(body); err != nil {
		respondUnprocessable(w, "invalid request body", fieldErrors(err))
		return
	}

	req := services.QueryRequest{Query: body.UserQuery, DocumentID: &documentID}
	if body.TopK != nil {
		req.TopK = *body.TopK
	}
	res := h.queries.Answer(r.Context(), req)

	if res.Error != nil {
		switch res.Error.Code {
		case services.CodeUnexpectedFormat:
			respondWithError(w, http.StatusNotFound, "no_answer", res.Answer, nil)
		default:
			respondWithError(w, http.StatusInternalServerError, res.Error.Code, res.Answer, nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		DocumentID:      documentID,
		Query:           body.UserQuery,
		Answer:          res.Answer,
		RetrievedChunks: len(res.RetrievedContext),
	})
}

func fieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
