package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"idlink/internal/contact/models"
	"idlink/internal/platform/metrics"
	"idlink/internal/platform/middleware"
	dErrors "idlink/pkg/domain-errors"
)

// Service defines the interface for contact reconciliation.
type Service interface {
	Reconcile(ctx context.Context, ids models.Identifiers) (*models.ConsolidatedContact, error)
}

// Handler handles the contact identification endpoint.
type Handler struct {
	logger   *slog.Logger
	contacts Service
	metrics  *metrics.Metrics
}

// New creates a contact Handler.
func New(contacts Service, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		logger:   logger,
		contacts: contacts,
		metrics:  metrics,
	}
}

// Register mounts the contact routes with the shared middleware chain.
func (h *Handler) Register(r chi.Router) {
	contactRouter := chi.NewRouter()
	contactRouter.Use(middleware.Recovery(h.logger))
	contactRouter.Use(middleware.RequestID)
	contactRouter.Use(middleware.Logger(h.logger))
	contactRouter.Use(middleware.Timeout(30 * time.Second))
	contactRouter.Use(middleware.ContentTypeJSON)
	contactRouter.Use(middleware.Latency(h.metrics))
	contactRouter.Post("/identify", h.handleIdentify)

	r.Mount("/", contactRouter)
}

// handleIdentify reconciles the submitted identifier pair and returns the
// consolidated contact view.
func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid identify request body",
			"request_id", requestID,
			"error", err.Error(),
		)
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(ctx, "identify request failed validation",
			"request_id", requestID,
			"error", err.Error(),
		)
		writeError(w, err)
		return
	}

	ids, err := req.Identifiers()
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.contacts.Reconcile(ctx, ids)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeValidation) || dErrors.Is(err, dErrors.CodeBadRequest) {
			writeError(w, err)
			return
		}
		h.logger.ErrorContext(ctx, "reconciliation failed",
			"request_id", requestID,
			"error", err.Error(),
		)
		writeError(w, dErrors.New(dErrors.CodeInternal, "failed to reconcile contact"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(models.IdentifyResponse{Contact: *result})
}

// writeError translates a domain error into the JSON error envelope. Internal
// causes never leak; only the caller-safe message is serialized.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(dErrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(code),
		"message": dErrors.MessageOf(err),
	})
}
