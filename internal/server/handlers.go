package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/qwerwsz/apeaksoft-watermark-remover/api/schemas"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/erase"
	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/journal"
)

type errorBody struct {
	Detail string `json:"detail"`
}

type statusRequest struct {
	Token string `json:"token"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	img, err := readPart(r, "img")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mask, err := readPart(r, "mask")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.eraser.Erase(r.Context(), erase.Request{
		IP:        clientIP(r),
		UserAgent: userAgent(r),
		Image:     *img,
		Mask:      mask,
	})
	if err != nil {
		s.writeEraseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	resp, err := s.eraser.Status(r.Context(), req.Token)
	if err != nil {
		s.writeEraseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}
	stats, err := s.journal.Statistics(r.Context())
	if err != nil {
		s.internalError(w, "Failed to compute statistics.", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ctx := r.Context()
	ip := strings.TrimSpace(r.URL.Query().Get("ip"))
	var (
		calls interface{}
		err   error
	)
	if ip != "" {
		calls, err = s.journal.ByIP(ctx, ip, limit)
	} else {
		calls, err = s.journal.Recent(ctx, limit)
	}
	if err != nil {
		s.internalError(w, "Failed to list calls.", err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}
	rec, err := s.journal.ByToken(r.Context(), chi.URLParam(r, "token"))
	if errors.Is(err, journal.ErrNotFound) {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	if err != nil {
		s.internalError(w, "Failed to load call.", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCallImage(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}
	img, err := s.journal.ImageByToken(r.Context(), chi.URLParam(r, "token"))
	s.writeImage(w, img, err)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if !s.journalEnabled(w) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	img, err := s.journal.ImageByID(r.Context(), id)
	s.writeImage(w, img, err)
}

func (s *Server) writeImage(w http.ResponseWriter, img *schemas.StoredImage, err error) {
	if errors.Is(err, journal.ErrNotFound) {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.internalError(w, "Failed to load image.", err)
		return
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(img.Data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	if img.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", img.Filename))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (s *Server) journalEnabled(w http.ResponseWriter) bool {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "call journal is disabled")
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func (s *Server) writeEraseError(w http.ResponseWriter, err error) {
	status := erase.StatusCode(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.Error("Erase request failed.", zap.Error(err))
	}
	writeError(w, status, erase.Detail(err))
}

func readPart(r *http.Request, field string) (*erase.File, error) {
	f, header, err := r.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("%s file is required", field)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", field, err)
	}
	return &erase.File{
		Data:        data,
		Filename:    header.Filename,
		ContentType: partContentType(header),
	}, nil
}

func partContentType(h *multipart.FileHeader) string {
	return h.Header.Get("Content-Type")
}
