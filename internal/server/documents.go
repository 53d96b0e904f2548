package server

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/bull/respondo-rag/internal/blob"
	"github.com/bull/respondo-rag/internal/documents"
	"github.com/bull/respondo-rag/internal/storage"
)

// multipartOverhead allows for form boundaries and headers around the file part.
const multipartOverhead = 1 << 20

type uploadResponse struct {
	Document *storage.Document `json:"document"`
}

type listResponse struct {
	Documents []storage.Document `json:"documents"`
	Count     int                `json:"count"`
}

type urlResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, fmt.Errorf("%w: max %d bytes", documents.ErrTooLarge, s.maxUpload))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing multipart field \"file\""})
		return
	}
	defer file.Close()

	doc, _, err := s.docs.Upload(r.Context(), documents.Upload{
		UserID:   r.Header.Get(UserHeader),
		FileName: header.Filename,
		Data:     file,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Document: doc})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	owner := r.Header.Get(UserHeader)
	if owner == "" {
		owner = r.URL.Query().Get("owner")
	}

	docs, err := s.docs.List(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []storage.Document{}
	}
	writeJSON(w, http.StatusOK, listResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	status, err := s.docs.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.docs.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSignedURL(w http.ResponseWriter, r *http.Request) {
	ttl := time.Duration(0)
	if v := r.URL.Query().Get("ttl"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid ttl"})
			return
		}
		ttl = d
	}

	url, err := s.docs.SignedURL(r.Context(), r.PathValue("id"), ttl)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := urlResponse{URL: url}
	if ttl == 0 {
		resp.ExpiresAt = time.Now().Add(blob.DefaultURLExpiry).UTC()
	} else {
		resp.ExpiresAt = time.Now().Add(ttl).UTC()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleFile serves a blob to holders of a valid signed URL.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	objectPath := r.PathValue("path")
	q := r.URL.Query()
	if err := s.files.Verify(objectPath, q.Get("expires"), q.Get("signature")); err != nil {
		s.writeError(w, r, err)
		return
	}

	f, err := s.files.Open(objectPath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.ServeContent(w, r, path.Base(objectPath), info.ModTime(), f)
}
