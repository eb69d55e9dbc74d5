package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/medreq/apiserver/internal/services"
	"github.com/medreq/apiserver/types"
)

const (
	formFieldDocuments = "documents"
	formFieldName      = "patient_name"
	formFieldAge       = "patient_age"
	formFieldGender    = "patient_gender"
	formFieldIDNumber  = "patient_id_number"
	formFieldSymptoms  = "symptoms"
	formFieldDiagnosis = "diagnosis"
	formFieldMeds      = "medications"
	formFieldHistory   = "medical_history"
)

// RequestHandler provides HTTP handlers for medical requests.
type RequestHandler struct {
	requests *services.RequestService
	stager   *services.DocumentStager
	maxBytes int64
}

// NewRequestHandler constructs a handler with the provided services.
func NewRequestHandler(requests *services.RequestService, stager *services.DocumentStager, maxBytes int64) *RequestHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileSize
	}
	return &RequestHandler{
		requests: requests,
		stager:   stager,
		maxBytes: maxBytes,
	}
}

// RequestRouter registers medical request routes on the given router.
func RequestRouter(
	r chi.Router,
	requests *services.RequestService,
	stager *services.DocumentStager,
	maxBytes int64,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewRequestHandler(requests, stager, maxBytes)

	r.Use(authMiddleware)
	r.Get("/", handler.ListRequests)
	r.Post("/", handler.SubmitRequest)
	r.Route("/{requestID}", func(r chi.Router) {
		r.Get("/", handler.GetRequest)
		r.With(requireManager).Post("/advance", handler.AdvanceRequest)
		r.Get("/documents/{ref}", handler.GetDocument)
	})
}

func (h *RequestHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}

	if err := parseUploadForm(w, r, h.maxBytes); err != nil {
		writeServiceError(w, r, err, "failed to read form")
		return
	}
	form := requestFormFromRequest(r)

	// Invalid forms are rejected before any inline file is stored.
	if fields := services.Validate(form); len(fields) > 0 {
		writeServiceError(w, r, &services.ValidationError{Fields: fields}, "failed to validate form")
		return
	}

	staging := services.NewStaging(r.PostForm[formFieldDocuments]...)
	uploads, err := readUploads(r.MultipartForm, formFieldFiles, h.maxBytes)
	if err != nil {
		writeServiceError(w, r, err, "failed to read upload")
		return
	}
	var inline []string
	if len(uploads) > 0 {
		inline, err = h.stager.StageAll(r.Context(), user.ID, uploads)
		if err != nil {
			h.stager.Discard(r.Context(), user.ID, inline...)
			writeServiceError(w, r, err, "failed to store documents")
			return
		}
		staging.Add(inline...)
	}

	created, err := h.requests.Submit(r.Context(), form, &user, staging)
	if err != nil {
		h.stager.Discard(r.Context(), user.ID, inline...)
		writeServiceError(w, r, err, "failed to submit request")
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *RequestHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}

	page, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.requests.List(r.Context(), user, offset, limit)
	if err != nil {
		writeServiceError(w, r, err, "failed to list requests")
		return
	}
	if items == nil {
		items = []types.MedicalRequest{}
	}

	writeJSON(w, http.StatusOK, RequestListResponse{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

func (h *RequestHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}
	id, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req, err := h.requests.Get(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err, "failed to fetch request")
		return
	}

	writeJSON(w, http.StatusOK, req)
}

func (h *RequestHandler) AdvanceRequest(w http.ResponseWriter, r *http.Request) {
	user, _ := currentUser(r.Context())
	id, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.requests.Advance(r.Context(), user, id)
	if err != nil {
		writeServiceError(w, r, err, "failed to update request")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// GetDocument streams one document attached to a request.
func (h *RequestHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}
	id, err := parseRequestID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ref := chi.URLParam(r, "ref")

	rc, err := h.requests.OpenDocument(r.Context(), user, id, ref)
	if err != nil {
		writeServiceError(w, r, err, "failed to open document")
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		writeServiceError(w, r, err, "failed to read document")
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", documentName(ref)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// RequestListResponse is the paginated list response payload.
type RequestListResponse struct {
	Items []types.MedicalRequest `json:"items"`
	Page  int                    `json:"page"`
	Limit int                    `json:"limit"`
	Total int                    `json:"total"`
}

func parseRequestID(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "requestID")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 1 {
		return 0, errors.New("invalid request id")
	}
	return id, nil
}

func requestFormFromRequest(r *http.Request) services.RequestForm {
	return services.RequestForm{
		PatientName:     r.PostFormValue(formFieldName),
		PatientAge:      r.PostFormValue(formFieldAge),
		PatientGender:   r.PostFormValue(formFieldGender),
		PatientIDNumber: r.PostFormValue(formFieldIDNumber),
		Symptoms:        r.PostFormValue(formFieldSymptoms),
		Diagnosis:       r.PostFormValue(formFieldDiagnosis),
		Medications:     r.PostFormValue(formFieldMeds),
		MedicalHistory:  r.PostFormValue(formFieldHistory),
	}
}

// documentName strips the timestamp prefix from a reference.
func documentName(ref string) string {
	if _, name, ok := strings.Cut(ref, "_"); ok {
		return name
	}
	return ref
}
