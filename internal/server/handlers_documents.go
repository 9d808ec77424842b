package server

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/pkg/models"
)

// maxUploadBytes caps a single document upload.
const maxUploadBytes = 32 << 20

func (h *handlers) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeInvalid(w, "invalid multipart form: "+err.Error())
		return
	}

	userID := strings.TrimSpace(r.FormValue("user_id"))
	if userID == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	docType := models.DocumentType(strings.TrimSpace(r.FormValue("document_type")))
	if docType == "" {
		docType = models.DocumentOther
	}
	if !models.ValidDocumentType(docType) {
		writeInvalid(w, "unknown document_type")
		return
	}

	var docDate *time.Time
	if v := strings.TrimSpace(r.FormValue("document_date")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeInvalid(w, "document_date must be YYYY-MM-DD")
			return
		}
		docDate = &parsed
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeInvalid(w, "file is required")
		return
	}
	defer file.Close()

	docID := uuid.NewString()
	ext := filepath.Ext(header.Filename)
	storedPath := filepath.Join(h.uploadDir, docID+ext)
	if err := saveUpload(storedPath, file); err != nil {
		writeError(w, err)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = header.Filename
	}

	doc := &models.MedicalDocument{
		ID:           docID,
		UserID:       userID,
		Title:        title,
		DocumentType: docType,
		FilePath:     storedPath,
		FileType:     strings.TrimPrefix(strings.ToLower(ext), "."),
		DocumentDate: docDate,
		Status:       models.DocumentUploading,
		CreatedAt:    time.Now(),
	}
	if err := h.store.Documents.CreateDocument(r.Context(), doc); err != nil {
		os.Remove(storedPath)
		writeError(w, err)
		return
	}

	job := &storage.IngestJob{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		UserID:     userID,
		EnqueuedAt: time.Now(),
	}
	if err := h.store.Queue.Enqueue(r.Context(), job); err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("document uploaded",
		"document_id", doc.ID,
		"user_id", userID,
		"file", header.Filename)
	writeJSON(w, http.StatusCreated, doc)
}

func saveUpload(path string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return err
	}
	return dst.Close()
}

func (h *handlers) listDocuments(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeInvalid(w, "user_id is required")
		return
	}
	docs, err := h.store.Documents.ListDocuments(r.Context(), userID, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *handlers) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Documents.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *handlers) deleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.store.Documents.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.store.Documents.DeleteDocument(r.Context(), doc.ID); err != nil {
		writeError(w, err)
		return
	}
	if doc.FilePath != "" {
		if err := os.Remove(doc.FilePath); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("remove uploaded file", "path", doc.FilePath, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
