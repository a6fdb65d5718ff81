package httptransport

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"sunatflow/internal/document"
	docstore "sunatflow/internal/document/store"
	"sunatflow/internal/platform/middleware"
	"sunatflow/internal/queue"
	"sunatflow/internal/storage"
	id "sunatflow/pkg/domain"
	dErrors "sunatflow/pkg/domain-errors"
	"sunatflow/pkg/platform/sentinel"
)

// maxUploadBytes bounds a raw XML upload. SUNAT itself caps submissions well
// below this.
const maxUploadBytes = 10 << 20

// Handler exposes the document ingest and status endpoints.
type Handler struct {
	documents docstore.DocumentStore
	blobs     storage.BlobStore
	publisher queue.Publisher
	logger    *slog.Logger
}

func NewHandler(
	documents docstore.DocumentStore,
	blobs storage.BlobStore,
	publisher queue.Publisher,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		documents: documents,
		blobs:     blobs,
		publisher: publisher,
		logger:    logger,
	}
}

// Register mounts the document routes on the router. The routes assume
// RequireAuth already ran; the token's project scope must match the path.
func (h *Handler) Register(r chi.Router) {
	r.Post("/projects/{projectID}/documents", h.handleSubmit)
	r.Get("/projects/{projectID}/documents/{documentID}", h.handleGet)
}

// handleSubmit accepts a raw UBL XML body, stores it and enqueues delivery.
// Content inspection happens in the pipeline, not here: a malformed file is
// accepted and later fails with its reason recorded on the document.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, ok := h.projectScope(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "could not read request body"))
		return
	}
	if len(body) == 0 {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "empty document body"))
		return
	}

	ref, err := h.blobs.Put(ctx, body)
	if err != nil {
		h.logger.ErrorContext(ctx, "could not store uploaded file",
			"error", err, "request_id", middleware.GetRequestID(ctx))
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "could not store file"))
		return
	}

	doc := &document.Document{
		ID:             id.NewDocumentID(),
		ProjectID:      projectID,
		Status:         document.StatusCreated,
		StorageFileRef: ref,
	}
	if err := h.documents.Create(ctx, doc); err != nil {
		h.logger.ErrorContext(ctx, "could not create document",
			"error", err, "request_id", middleware.GetRequestID(ctx))
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "could not create document"))
		return
	}

	if err := h.publisher.Publish(ctx, queue.ChannelSendDocument, queue.Message{DocumentID: doc.ID}); err != nil {
		// The document exists but is not in flight. Surface the failure so
		// the caller retries the submission rather than polling forever.
		h.logger.ErrorContext(ctx, "could not enqueue document",
			"document", doc.ID, "error", err, "request_id", middleware.GetRequestID(ctx))
		writeError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "could not enqueue document"))
		return
	}

	writeJSON(w, http.StatusAccepted, documentView(doc))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	projectID, ok := h.projectScope(w, r)
	if !ok {
		return
	}

	documentID, err := id.ParseDocumentID(chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid document id"))
		return
	}

	doc, err := h.documents.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			writeError(w, dErrors.New(dErrors.CodeNotFound, "document not found"))
			return
		}
		h.logger.ErrorContext(ctx, "could not load document",
			"document", documentID, "error", err, "request_id", middleware.GetRequestID(ctx))
		writeError(w, dErrors.Wrap(err, dErrors.CodeInternal, "could not load document"))
		return
	}
	// Documents of other projects do not exist as far as this caller knows.
	if doc.ProjectID != projectID {
		writeError(w, dErrors.New(dErrors.CodeNotFound, "document not found"))
		return
	}

	writeJSON(w, http.StatusOK, documentView(doc))
}

// projectScope parses the path project and enforces that the bearer token is
// scoped to it.
func (h *Handler) projectScope(w http.ResponseWriter, r *http.Request) (id.ProjectID, bool) {
	projectID, err := id.ParseProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid project id"))
		return id.ProjectID{}, false
	}
	if scope := middleware.GetProjectID(r.Context()); scope != projectID.String() {
		writeError(w, dErrors.New(dErrors.CodeForbidden, "token not scoped to this project"))
		return id.ProjectID{}, false
	}
	return projectID, true
}

type sunatView struct {
	Ticket      string   `json:"ticket,omitempty"`
	Status      string   `json:"status,omitempty"`
	Code        *int     `json:"code,omitempty"`
	Description string   `json:"description,omitempty"`
	Notes       []string `json:"notes,omitempty"`
}

type documentResponse struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"projectId"`
	Status            string     `json:"status"`
	RUC               string     `json:"ruc,omitempty"`
	DocumentType      string     `json:"documentType,omitempty"`
	DocumentID        string     `json:"documentId,omitempty"`
	Error             string     `json:"error,omitempty"`
	ErrorMessage      string     `json:"errorMessage,omitempty"`
	Retries           int        `json:"retries"`
	ScheduledDelivery *time.Time `json:"scheduledDelivery,omitempty"`
	Sunat             sunatView  `json:"sunat"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

func documentView(doc *document.Document) documentResponse {
	return documentResponse{
		ID:                doc.ID.String(),
		ProjectID:         doc.ProjectID.String(),
		Status:            string(doc.Status),
		RUC:               doc.RUC,
		DocumentType:      doc.DocumentType,
		DocumentID:        doc.DocumentID,
		Error:             string(doc.Error),
		ErrorMessage:      doc.ErrorMessage,
		Retries:           doc.Retries,
		ScheduledDelivery: doc.ScheduledDelivery,
		Sunat: sunatView{
			Ticket:      doc.Sunat.Ticket,
			Status:      doc.Sunat.Status,
			Code:        doc.Sunat.Code,
			Description: doc.Sunat.Description,
			Notes:       doc.Sunat.Notes,
		},
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}
