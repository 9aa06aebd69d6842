package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/snbhowmik/care-x/internal/access"
	"github.com/snbhowmik/care-x/internal/audit"
	"github.com/snbhowmik/care-x/internal/integrity"
	"github.com/snbhowmik/care-x/internal/store"
	"github.com/snbhowmik/care-x/pkg/models"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	facade    *access.Facade
	audit     *audit.Logger
	documents store.DocumentStore
}

// NewHandlers creates new handlers
func NewHandlers(facade *access.Facade, auditLog *audit.Logger, documents store.DocumentStore) *Handlers {
	return &Handlers{
		facade:    facade,
		audit:     auditLog,
		documents: documents,
	}
}

// HealthCheck handles health check requests
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "care-x",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Access control handlers

// GetGrantees returns the reconstructed authorized-grantee set for a subject
func (h *Handlers) GetGrantees(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	result, err := h.facade.AuthorizedGrantees(r.Context(), subject)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}

// GetVisibleDocuments returns the document set a viewer may see
func (h *Handlers) GetVisibleDocuments(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	viewer := r.URL.Query().Get("viewer")
	if viewer == "" {
		respondError(w, http.StatusBadRequest, "Missing viewer query parameter")
		return
	}

	result, err := h.facade.VisibleDocuments(r.Context(), subject, viewer)
	if err != nil {
		respondAccessError(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}

// GrantRequest is the body of a grant command
type GrantRequest struct {
	SubjectWallet string   `json:"subject_wallet"`
	GranteeWallet string   `json:"grantee_wallet"`
	DocumentIDs   []string `json:"doc_ids"`
}

// Grant authorizes a grantee and shares documents
func (h *Handlers) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := h.facade.Grant(r.Context(), req.SubjectWallet, req.GranteeWallet, req.DocumentIDs)
	respond(w, commandStatusCode(result), result)
}

// RevokeRequest is the body of a revoke command
type RevokeRequest struct {
	SubjectWallet string `json:"subject_wallet"`
	GranteeWallet string `json:"grantee_wallet"`
}

// Revoke withdraws a grantee's authorization
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := h.facade.Revoke(r.Context(), req.SubjectWallet, req.GranteeWallet)
	respond(w, commandStatusCode(result), result)
}

// RetryCompensation re-runs the share deletion for a partially applied revoke
func (h *Handlers) RetryCompensation(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := h.facade.RetryCompensation(r.Context(), req.SubjectWallet, req.GranteeWallet)
	respond(w, commandStatusCode(result), result)
}

// Record integrity handlers

// VerifyRecord recomputes a vital record's fingerprint against its anchor
func (h *Handlers) VerifyRecord(w http.ResponseWriter, r *http.Request) {
	var rec models.VitalRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result := integrity.Verify(&rec)
	h.audit.LogVerification(r.Context(), rec.RecordID, rec.SubjectWallet, string(result.Outcome), result.Reason)
	respond(w, http.StatusOK, result)
}

// CreateVitalRecord registers anchored vital metadata
func (h *Handlers) CreateVitalRecord(w http.ResponseWriter, r *http.Request) {
	var rec models.VitalRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if rec.SubjectWallet == "" || rec.AnchoredFingerprint == "" {
		respondError(w, http.StatusBadRequest, "Missing subject_wallet or anchored_fingerprint")
		return
	}

	if err := h.documents.PutVitalRecord(r.Context(), &rec); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to store vital record")
		return
	}
	respond(w, http.StatusCreated, rec)
}

// ListVitalRecords returns a subject's anchored vital records
func (h *Handlers) ListVitalRecords(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")

	recs, err := h.documents.ListVitalRecords(r.Context(), subject)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list vital records")
		return
	}
	if recs == nil {
		recs = []models.VitalRecord{}
	}
	respond(w, http.StatusOK, recs)
}

// VerifyStoredRecord recomputes the fingerprint for a stored record
func (h *Handlers) VerifyStoredRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.documents.GetVitalRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Record not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load record")
		return
	}

	result := integrity.Verify(rec)
	h.audit.LogVerification(r.Context(), rec.RecordID, rec.SubjectWallet, string(result.Outcome), result.Reason)
	respond(w, http.StatusOK, result)
}

// Document handlers

// CreateDocument registers document metadata
func (h *Handlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var doc models.MedicalDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if doc.OwnerWallet == "" || doc.Name == "" {
		respondError(w, http.StatusBadRequest, "Missing owner_wallet or name")
		return
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.OwnerWallet = models.NormalizeWallet(doc.OwnerWallet)
	doc.CreatedAt = time.Now().UTC()

	if err := h.documents.PutDocument(r.Context(), &doc); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to store document")
		return
	}
	respond(w, http.StatusCreated, doc)
}

// ListDocuments returns document metadata owned by a wallet
func (h *Handlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	docs, err := h.documents.ListDocuments(r.Context(), models.NormalizeWallet(owner))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list documents")
		return
	}
	if docs == nil {
		docs = []models.MedicalDocument{}
	}
	respond(w, http.StatusOK, docs)
}

// Audit handlers

// ListAuditEvents retrieves audit events with optional filters
func (h *Handlers) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	filter := audit.EventFilter{
		Type:          r.URL.Query().Get("type"),
		Action:        r.URL.Query().Get("action"),
		Outcome:       r.URL.Query().Get("outcome"),
		SubjectWallet: r.URL.Query().Get("subject"),
		GranteeWallet: r.URL.Query().Get("grantee"),
	}

	events := h.audit.GetEvents(filter)
	if events == nil {
		events = []*models.AuditEvent{}
	}
	respond(w, http.StatusOK, events)
}

// GetAuditEvent retrieves a single audit event
func (h *Handlers) GetAuditEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, ok := h.audit.GetEvent(id)
	if !ok {
		respondError(w, http.StatusNotFound, "Audit event not found")
		return
	}
	respond(w, http.StatusOK, event)
}

// GetAuditStats returns audit statistics
func (h *Handlers) GetAuditStats(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, h.audit.GetStats())
}

// GetStats returns combined service statistics
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{
		"access": h.facade.GetStats(),
		"audit":  h.audit.GetStats(),
	})
}

// commandStatusCode maps a command outcome to an HTTP status
func commandStatusCode(result *access.CommandResult) int {
	switch result.Status {
	case access.StatusRejected:
		return http.StatusBadRequest
	case access.StatusFailed:
		return http.StatusBadGateway
	default:
		// Accepted and partially applied both return 200; the body
		// carries the precise outcome.
		return http.StatusOK
	}
}

func respondAccessError(w http.ResponseWriter, err error) {
	var collab *access.CollaboratorError
	if errors.As(err, &collab) {
		respondError(w, http.StatusServiceUnavailable, collab.Error())
		return
	}
	var accessErr *access.Error
	if errors.As(err, &accessErr) {
		respondError(w, http.StatusBadRequest, accessErr.Message)
		return
	}
	respondError(w, http.StatusInternalServerError, "Internal server error")
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respond(w, status, map[string]string{"error": message})
}
