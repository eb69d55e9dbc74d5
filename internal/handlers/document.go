package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/medreq/apiserver/internal/services"
)

const (
	formFieldFiles     = "files"
	maxMultipartMemory = 32 << 20
	defaultMaxFileSize = 10 << 20
	// formOverheadBytes covers the text fields of a multipart body.
	formOverheadBytes = 1 << 20
)

var errInvalidForm = errors.New("invalid multipart form")

// DocumentHandler stages uploaded documents ahead of a submission.
type DocumentHandler struct {
	stager   *services.DocumentStager
	maxBytes int64
}

// NewDocumentHandler constructs a handler; maxBytes bounds a single file.
func NewDocumentHandler(stager *services.DocumentStager, maxBytes int64) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileSize
	}
	return &DocumentHandler{
		stager:   stager,
		maxBytes: maxBytes,
	}
}

// DocumentRouter registers document routes on the given router.
func DocumentRouter(
	r chi.Router,
	stager *services.DocumentStager,
	maxBytes int64,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewDocumentHandler(stager, maxBytes)

	r.With(authMiddleware).Post("/", handler.Upload)
}

// Upload stages up to five files for the current user and returns their
// references.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, services.ErrUnauthenticated.Error())
		return
	}

	if err := parseUploadForm(w, r, h.maxBytes); err != nil {
		writeServiceError(w, r, err, "failed to read upload")
		return
	}

	uploads, err := readUploads(r.MultipartForm, formFieldFiles, h.maxBytes)
	if err != nil {
		writeServiceError(w, r, err, "failed to read upload")
		return
	}

	refs, err := h.stager.StageAll(r.Context(), user.ID, uploads)
	if err != nil {
		h.stager.Discard(r.Context(), user.ID, refs...)
		writeServiceError(w, r, err, "failed to store documents")
		return
	}

	writeJSON(w, http.StatusCreated, DocumentUploadResponse{Documents: refs})
}

// DocumentUploadResponse lists the references of staged documents.
type DocumentUploadResponse struct {
	Documents []string `json:"documents"`
}

// parseUploadForm parses a multipart body capped at the largest upload
// the stager would accept.
func parseUploadForm(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes*services.MaxDocumentsPerUpload+formOverheadBytes)
	err := r.ParseMultipartForm(maxMultipartMemory)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return fmt.Errorf("%w: request body exceeds %d bytes", services.ErrDocumentTooLarge, tooLarge.Limit)
	case errors.Is(err, http.ErrNotMultipart):
		if err := r.ParseForm(); err != nil {
			return errInvalidForm
		}
		return nil
	default:
		return errInvalidForm
	}
}

func readUploads(form *multipart.Form, field string, limit int64) ([]services.Upload, error) {
	if form == nil {
		return nil, nil
	}
	files := form.File[field]
	if len(files) > services.MaxDocumentsPerUpload {
		return nil, fmt.Errorf("%w: at most %d files per upload", services.ErrTooManyDocuments, services.MaxDocumentsPerUpload)
	}

	uploads := make([]services.Upload, 0, len(files))
	for _, fileHeader := range files {
		file, err := fileHeader.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", fileHeader.Filename, err)
		}

		data, err := readFileLimited(file, limit)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fileHeader.Filename, err)
		}

		uploads = append(uploads, services.Upload{
			Name: fileHeader.Filename,
			Data: data,
		})
	}
	return uploads, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, services.ErrDocumentTooLarge
	}
	return data, nil
}
